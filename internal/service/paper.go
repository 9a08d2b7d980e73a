package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pyqapi/internal/cache"
	"pyqapi/internal/locator"
	"pyqapi/internal/logging"
	"pyqapi/internal/model"
	"pyqapi/internal/repository"
	"pyqapi/internal/storage"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	// RecentUploads is the number of papers reported by Stats.
	RecentUploads = 5
)

var pdfMagic = []byte("%PDF-")

// UploadInput is the metadata accompanying an uploaded PDF.
type UploadInput struct {
	Subject    string
	Department string
	Semester   int
	Year       int
	UploadedBy string
}

// ListParams selects a page of papers. Page is 1-indexed.
type ListParams struct {
	Filter   model.PaperFilter
	Page     int
	PageSize int
}

// PaperListResult is the service-level DTO for paginated papers.
type PaperListResult struct {
	Items      []model.Paper `json:"items"`
	TotalCount int           `json:"totalCount"`
	TotalPages int           `json:"totalPages"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
}

// Stats summarizes the collection for the admin dashboard.
type Stats struct {
	TotalPapers      int           `json:"totalPapers"`
	RecentUploads    []model.Paper `json:"recentUploads"`
	ThisMonthUploads int           `json:"thisMonthUploads"`
}

// DeleteResult reports what a delete removed.
type DeleteResult struct {
	ID             string `json:"id"`
	StorageDeleted bool   `json:"storageDeleted"`
}

// PaperService defines the use cases for handling papers.
type PaperService interface {
	// Upload stores the PDF read from r, then saves its record. The stored object is removed if the save fails.
	Upload(ctx context.Context, in UploadInput, r io.Reader) (*model.Paper, error)

	// Get returns a single paper by its ID.
	Get(ctx context.Context, id string) (*model.Paper, error)

	// List returns one page of matching papers, most recent first.
	List(ctx context.Context, p ListParams) (*PaperListResult, error)

	// ListAll returns every matching paper, most recent first.
	ListAll(ctx context.Context, f model.PaperFilter) ([]model.Paper, error)

	// Stats returns collection totals as of now.
	Stats(ctx context.Context, now time.Time) (*Stats, error)

	// Delete removes the record, then asks storage to drop the binary.
	Delete(ctx context.Context, id string) (*DeleteResult, error)
}

type paperService struct {
	repo   repository.PaperRepository
	store  storage.Storage
	assets cache.AssetCache
	tmpDir string
	now    func() time.Time
}

// NewPaperService constructs a new PaperService. Upload bodies are spooled to files under tmpDir.
func NewPaperService(repo repository.PaperRepository, store storage.Storage, assets cache.AssetCache, tmpDir string) PaperService {
	if assets == nil {
		assets = cache.Noop{}
	}
	return &paperService{repo: repo, store: store, assets: assets, tmpDir: tmpDir, now: time.Now}
}

// ParseUploadInput converts form values into an UploadInput.
func ParseUploadInput(subject, department, semester, year string) (UploadInput, error) {
	in := UploadInput{
		Subject:    strings.TrimSpace(subject),
		Department: strings.TrimSpace(department),
	}
	var err error
	if in.Semester, err = parseIntField("semester", semester); err != nil {
		return UploadInput{}, err
	}
	if in.Year, err = parseIntField("year", year); err != nil {
		return UploadInput{}, err
	}
	return in, in.validate()
}

// ParseFilter builds a filter from raw query values. Empty values match anything.
func ParseFilter(department, semester, year, subject string) (model.PaperFilter, error) {
	f := model.PaperFilter{
		Department: strings.TrimSpace(department),
		Subject:    strings.TrimSpace(subject),
	}
	var err error
	if strings.TrimSpace(semester) != "" {
		if f.Semester, err = parseIntField("semester", semester); err != nil {
			return model.PaperFilter{}, err
		}
	}
	if strings.TrimSpace(year) != "" {
		if f.Year, err = parseIntField("year", year); err != nil {
			return model.PaperFilter{}, err
		}
	}
	return f, nil
}

func parseIntField(name, v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, validationErr("%s is required", name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, validationErr("%s must be an integer", name)
	}
	return n, nil
}

func (in UploadInput) validate() error {
	switch {
	case strings.TrimSpace(in.Subject) == "":
		return validationErr("subject is required")
	case strings.TrimSpace(in.Department) == "":
		return validationErr("department is required")
	case in.Semester < 1 || in.Semester > 8:
		return validationErr("semester must be between 1 and 8")
	case in.Year <= 0:
		return validationErr("year must be positive")
	}
	return nil
}

func (s *paperService) Upload(ctx context.Context, in UploadInput, r io.Reader) (*model.Paper, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrFileRequired
	}

	tmp, err := os.CreateTemp(s.tmpDir, "pyq-upload-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if size == 0 {
		return nil, ErrFileRequired
	}
	if err := checkPDF(tmp); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	createdAt := s.now().UTC()
	key := storage.NewPaperRef(id, createdAt).Key()

	if _, err := s.store.Put(ctx, key, tmp, storage.PutObjectOptions{
		Size:        size,
		ContentType: "application/pdf",
		Metadata: map[string]string{
			"paper-id": id,
			"subject":  in.Subject,
		},
	}); err != nil {
		return nil, fmt.Errorf("%w: upload to storage: %w", ErrStorage, err)
	}

	locatorURL := s.store.URL(key)
	if u, err := url.Parse(locatorURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		_ = s.store.Delete(ctx, key)
		return nil, fmt.Errorf("%w: invalid locator %q", ErrStorage, locatorURL)
	}

	uploadedBy := strings.TrimSpace(in.UploadedBy)
	if uploadedBy == "" {
		uploadedBy = model.DefaultUploader
	}
	paper := &model.Paper{
		ID:         id,
		Subject:    strings.TrimSpace(in.Subject),
		Department: strings.TrimSpace(in.Department),
		Semester:   in.Semester,
		Year:       in.Year,
		Locator:    locatorURL,
		StorageKey: key,
		UploadedBy: uploadedBy,
		CreatedAt:  createdAt,
	}
	stored, err := s.repo.Create(ctx, paper)
	if err != nil {
		// Rollback: delete the object from storage
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}
	return stored, nil
}

// checkPDF verifies the magic header and rewinds f.
func checkPDF(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}
	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, pdfMagic) {
		return ErrNotPDF
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}
	return nil
}

// Get returns a paper by ID. Malformed IDs are reported as not found.
func (s *paperService) Get(ctx context.Context, id string) (*model.Paper, error) {
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

// List returns a page of papers; pages past the end are empty.
func (s *paperService) List(ctx context.Context, p ListParams) (*PaperListResult, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}

	res, err := s.repo.List(ctx, p.Filter, repository.PageQuery{
		Limit:  p.PageSize,
		Offset: pageOffset(p.Page, p.PageSize),
	})
	if err != nil {
		return nil, err
	}
	items := res.Items
	if items == nil {
		items = []model.Paper{}
	}
	return &PaperListResult{
		Items:      items,
		TotalCount: res.Total,
		TotalPages: (res.Total + p.PageSize - 1) / p.PageSize,
		Page:       p.Page,
		PageSize:   p.PageSize,
	}, nil
}

// pageOffset saturates at math.MaxInt so huge page numbers still land past the end.
func pageOffset(page, size int) int {
	if page-1 > (math.MaxInt-size)/size {
		return math.MaxInt
	}
	return (page - 1) * size
}

func (s *paperService) ListAll(ctx context.Context, f model.PaperFilter) ([]model.Paper, error) {
	res, err := s.repo.List(ctx, f, repository.PageQuery{})
	if err != nil {
		return nil, err
	}
	if res.Items == nil {
		return []model.Paper{}, nil
	}
	return res.Items, nil
}

// Stats counts uploads since the first instant of now's UTC calendar month.
func (s *paperService) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	recent, err := s.repo.List(ctx, model.PaperFilter{}, repository.PageQuery{Limit: RecentUploads})
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	thisMonth, err := s.repo.CountSince(ctx, monthStart)
	if err != nil {
		return nil, err
	}
	items := recent.Items
	if items == nil {
		items = []model.Paper{}
	}
	return &Stats{TotalPapers: recent.Total, RecentUploads: items, ThisMonthUploads: thisMonth}, nil
}

// Delete removes the record first. Storage and cache cleanup failures are logged, not returned.
func (s *paperService) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	log := logging.L().With(zap.String("component", "paper_service"), zap.String("paper_id", id))
	res := &DeleteResult{ID: id}

	key := p.StorageKey
	if key == "" {
		if ref, err := locator.Parse(p.Locator); err == nil {
			key = ref.Key()
		}
	}
	if key == "" {
		log.Warn("no storage key for deleted paper", zap.String("event", "storage_delete_skipped"), zap.String("locator", p.Locator))
	} else if err := s.store.Delete(ctx, key); err != nil {
		log.Warn("storage delete failed", zap.String("event", "storage_delete_failed"), zap.String("key", key), zap.Error(err))
	} else {
		res.StorageDeleted = true
	}

	if err := s.assets.Delete(ctx, id); err != nil {
		log.Warn("cache invalidation failed", zap.String("event", "cache_delete_failed"), zap.Error(err))
	}
	return res, nil
}
