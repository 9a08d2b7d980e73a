// Package storage contains object storage abstractions for S3-compatible backends (MinIO, AWS S3).
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Resource types used as the first segment of every object key.
const (
	ResourceRaw   = "raw"
	ResourceImage = "image"
	ResourceAuto  = "auto"
)

// DeliveryMarker separates the resource type from the versioned public id in keys and locators.
const DeliveryMarker = "/upload/"

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is the object storage client injected into the upload, delete and download paths.
// Implementations are safe for concurrent use.
type Storage interface {
	// Put uploads an object under the given key using the provided reader and options.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Delete removes an object by key.
	Delete(ctx context.Context, key string) error
	// PresignGet returns a time-limited URL that can be used to download the object without credentials.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// URL returns the public (unsigned) locator of an object.
	URL(key string) string
}

// AssetRef identifies a stored asset by its delivery components.
// Keys are laid out as <resource-type>/upload/[<version>/]<public-id>[.<format>].
type AssetRef struct {
	ResourceType string
	// Version is the "v<digits>" marker, or empty.
	Version  string
	PublicID string
	Format   string
}

// NewPaperRef returns the reference a freshly uploaded paper PDF is stored under.
func NewPaperRef(id string, at time.Time) AssetRef {
	return AssetRef{
		ResourceType: ResourceRaw,
		Version:      fmt.Sprintf("v%d", at.Unix()),
		PublicID:     "papers/" + id,
		Format:       "pdf",
	}
}

// Key renders the object key for the reference.
func (a AssetRef) Key() string {
	rt := a.ResourceType
	if rt == "" {
		rt = ResourceAuto
	}
	var b strings.Builder
	b.WriteString(rt)
	b.WriteString(DeliveryMarker)
	if a.Version != "" {
		b.WriteString(a.Version)
		b.WriteByte('/')
	}
	b.WriteString(strings.TrimPrefix(a.PublicID, "/"))
	if a.Format != "" {
		b.WriteByte('.')
		b.WriteString(a.Format)
	}
	return b.String()
}
