// Package locator derives alternate delivery URLs for stored assets.
package locator

import (
	"context"
	"errors"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"pyqapi/internal/logging"
	"pyqapi/internal/storage"
)

// Strategy selects how an alternate locator is derived.
type Strategy int

const (
	// StrategyAuthenticated rewrites the locator into a signed delivery URL.
	StrategyAuthenticated Strategy = iota
	// StrategySwap replaces the image resource type with raw.
	StrategySwap
)

func (s Strategy) String() string {
	if s == StrategySwap {
		return "swap"
	}
	return "authenticated"
}

const (
	imageSegment = "/" + storage.ResourceImage + storage.DeliveryMarker
	rawSegment   = "/" + storage.ResourceRaw + storage.DeliveryMarker
)

// DefaultSignedTTL is used when no positive TTL is configured.
const DefaultSignedTTL = 5 * time.Minute

var versionRe = regexp.MustCompile(`^v[0-9]+$`)

// ErrNoDeliveryMarker is returned by Parse for locators without the upload marker.
var ErrNoDeliveryMarker = errors.New("locator has no delivery marker")

// Presigner builds signed GET URLs for object keys. storage.Storage satisfies it.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Rewriter derives alternate locators. It never fails: unusable input yields the original URL.
type Rewriter struct {
	presigner Presigner
	ttl       time.Duration
}

// NewRewriter returns a Rewriter that signs delivery URLs with p for ttl.
func NewRewriter(p Presigner, ttl time.Duration) *Rewriter {
	if ttl <= 0 {
		ttl = DefaultSignedTTL
	}
	return &Rewriter{presigner: p, ttl: ttl}
}

// DeriveAlternate returns the alternate locator for strategy and whether one exists.
// The authenticated strategy always reports ok, returning raw unchanged when it cannot sign.
func (r *Rewriter) DeriveAlternate(ctx context.Context, raw string, strategy Strategy) (string, bool) {
	switch strategy {
	case StrategySwap:
		return SwapResourceType(raw)
	default:
		return r.authenticated(ctx, raw), true
	}
}

func (r *Rewriter) authenticated(ctx context.Context, raw string) string {
	ref, err := Parse(raw)
	if err != nil {
		logging.L().Debug("locator not rewritable", zap.String("component", "locator"), zap.String("url", raw), zap.Error(err))
		return raw
	}
	if r.presigner == nil {
		return raw
	}
	signed, err := r.presigner.PresignGet(ctx, ref.Key(), r.ttl)
	if err != nil || signed == "" {
		logging.L().Warn("presign failed", zap.String("component", "locator"), zap.String("key", ref.Key()), zap.Error(err))
		return raw
	}
	return signed
}

// SwapResourceType replaces the first "/image/upload/" with "/raw/upload/".
func SwapResourceType(raw string) (string, bool) {
	if !strings.Contains(raw, imageSegment) {
		return "", false
	}
	return strings.Replace(raw, imageSegment, rawSegment, 1), true
}

// HasImageSegment reports whether the resource-type swap applies to raw.
func HasImageSegment(raw string) bool {
	return strings.Contains(raw, imageSegment)
}

// Parse extracts the delivery components of a locator.
// The path after the upload marker is "[v<digits>/]<public-id>[.<ext>]".
func Parse(raw string) (storage.AssetRef, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return storage.AssetRef{}, err
	}
	p := u.Path
	idx := strings.Index(p, storage.DeliveryMarker)
	if idx < 0 {
		return storage.AssetRef{}, ErrNoDeliveryMarker
	}

	ref := storage.AssetRef{ResourceType: resourceType(path.Base(p[:idx]))}

	rest := strings.Trim(p[idx+len(storage.DeliveryMarker):], "/")
	if first, tail, _ := strings.Cut(rest, "/"); versionRe.MatchString(first) {
		ref.Version = first
		rest = tail
	}
	if rest == "" {
		return storage.AssetRef{}, errors.New("locator has no public id")
	}

	dir, last := path.Split(rest)
	if ext := path.Ext(last); ext != "" && ext != last {
		ref.Format = strings.TrimPrefix(ext, ".")
		last = strings.TrimSuffix(last, ext)
	}
	ref.PublicID = dir + last
	return ref, nil
}

// resourceType maps the path segment directly before the upload marker.
func resourceType(segment string) string {
	switch segment {
	case storage.ResourceRaw, storage.ResourceImage:
		return segment
	default:
		return storage.ResourceAuto
	}
}
