package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pyqapi/internal/cache"
	"pyqapi/internal/fetch"
	"pyqapi/internal/locator"
	"pyqapi/internal/logging"
	"pyqapi/internal/metrics"
	"pyqapi/internal/model"
	"pyqapi/internal/repository"
)

// Stages of the download fallback chain, in order.
const (
	StageOriginal          = "original"
	StageAuthenticated     = "authenticated"
	StageSwap              = "swap"
	StageSwapAuthenticated = "swap_authenticated"
)

// MaxAttempts bounds the fetches made for a single download.
const MaxAttempts = 4

const pdfContentType = "application/pdf"

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9]`)

// Fetcher retrieves the bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Rewriter derives alternate locators.
type Rewriter interface {
	DeriveAlternate(ctx context.Context, url string, strategy locator.Strategy) (string, bool)
}

// DownloadResult is a resolved paper ready to be streamed to the client.
type DownloadResult struct {
	Data        []byte
	Filename    string
	ContentType string
}

// DownloadService resolves a paper to its PDF bytes.
type DownloadService interface {
	// ResolveAndDownload fetches the paper's PDF, falling back through alternate locators.
	// Failures after lookup are reported as *DownloadError.
	ResolveAndDownload(ctx context.Context, id string) (*DownloadResult, error)
}

type downloadService struct {
	repo     repository.PaperRepository
	fetcher  Fetcher
	rewriter Rewriter
	assets   cache.AssetCache
	metrics  *metrics.Download
}

// NewDownloadService constructs a new DownloadService. assets and m may be nil.
func NewDownloadService(repo repository.PaperRepository, f Fetcher, r Rewriter, assets cache.AssetCache, m *metrics.Download) DownloadService {
	if assets == nil {
		assets = cache.Noop{}
	}
	return &downloadService{repo: repo, fetcher: f, rewriter: r, assets: assets, metrics: m}
}

// Filename derives the attachment name for a paper.
func Filename(p *model.Paper) string {
	return unsafeFilenameChars.ReplaceAllString(p.Subject, "_") + "_" + strconv.Itoa(p.Year) + "_paper.pdf"
}

// chain tracks the attempts of one download.
type chain struct {
	s        *downloadService
	paperID  string
	attempts []Attempt
}

func (c *chain) try(ctx context.Context, stage, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.attempts) >= MaxAttempts {
		return nil, fmt.Errorf("attempt limit %d reached", MaxAttempts)
	}

	data, err := c.s.fetcher.Fetch(ctx, url)
	if err != nil {
		c.attempts = append(c.attempts, Attempt{Stage: stage, URL: url, Err: err})
		c.s.metrics.Attempt(stage, fetch.KindOf(err).String())
		logging.L().Info("download attempt failed",
			zap.String("component", "download"),
			zap.String("event", "attempt_failed"),
			zap.String("paper_id", c.paperID),
			zap.String("stage", stage),
			zap.Int("attempt", len(c.attempts)),
			zap.Error(err),
		)
		return nil, err
	}
	c.s.metrics.Attempt(stage, metrics.OutcomeSuccess)
	return data, nil
}

func (s *downloadService) ResolveAndDownload(ctx context.Context, id string) (*DownloadResult, error) {
	p, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, ok, err := s.assets.Get(ctx, p.ID); err != nil {
		logging.L().Warn("asset cache read failed", zap.String("component", "download"), zap.String("paper_id", p.ID), zap.Error(err))
	} else if ok && len(data) > 0 {
		s.metrics.Result(metrics.ResultCached)
		return s.result(p, data), nil
	}

	c := &chain{s: s, paperID: p.ID}
	data, err := s.resolve(ctx, c, p.Locator)
	if err != nil {
		s.metrics.Result(metrics.ResultFailed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("download %s: %w", p.ID, ctxErr)
		}
		return nil, &DownloadError{PaperID: p.ID, Attempts: c.attempts}
	}

	if err := s.assets.Set(ctx, p.ID, data); err != nil {
		logging.L().Warn("asset cache write failed", zap.String("component", "download"), zap.String("paper_id", p.ID), zap.Error(err))
	}
	s.countDownload(p)
	return s.result(p, data), nil
}

func (s *downloadService) lookup(ctx context.Context, id string) (*model.Paper, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrIDRequired
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// resolve walks original, authenticated, swap and swap-authenticated attempts.
func (s *downloadService) resolve(ctx context.Context, c *chain, original string) ([]byte, error) {
	data, err := c.try(ctx, StageOriginal, original)
	if err == nil {
		return data, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	if fetch.IsAuth(err) {
		signed, _ := s.rewriter.DeriveAlternate(ctx, original, locator.StrategyAuthenticated)
		if data, err = c.try(ctx, StageAuthenticated, signed); err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
	}

	swapped, ok := s.rewriter.DeriveAlternate(ctx, original, locator.StrategySwap)
	if !ok {
		return nil, err
	}
	data, err = c.try(ctx, StageSwap, swapped)
	if err == nil {
		return data, nil
	}
	if !fetch.IsAuth(err) || ctx.Err() != nil {
		return nil, err
	}

	signed, _ := s.rewriter.DeriveAlternate(ctx, swapped, locator.StrategyAuthenticated)
	return c.try(ctx, StageSwapAuthenticated, signed)
}

// countDownload is the hook for download counting. Records are not mutated; only metrics move.
func (s *downloadService) countDownload(*model.Paper) {
	s.metrics.Result(metrics.ResultSuccess)
}

func (s *downloadService) result(p *model.Paper, data []byte) *DownloadResult {
	return &DownloadResult{Data: data, Filename: Filename(p), ContentType: pdfContentType}
}
