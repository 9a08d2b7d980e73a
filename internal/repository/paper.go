package repository

import (
	"context"
	"errors"
	"time"

	"pyqapi/internal/model"
)

// ErrNotFound is returned when a paper row does not exist.
var ErrNotFound = errors.New("paper not found")

// PaperRepository defines data access for papers using SQL queries only.
// No business logic here — strictly persistence operations.
type PaperRepository interface {
	// Create inserts a new paper record and returns the stored row.
	Create(ctx context.Context, p *model.Paper) (*model.Paper, error)

	// FindByID returns a paper by its ID or ErrNotFound.
	FindByID(ctx context.Context, id string) (*model.Paper, error)

	// List returns papers matching the filter, most recent first.
	// A zero Limit returns every matching row.
	List(ctx context.Context, f model.PaperFilter, pq PageQuery) (*PageResult[model.Paper], error)

	// CountSince counts papers created at or after t.
	CountSince(ctx context.Context, t time.Time) (int, error)

	// Delete removes a paper by ID and returns ErrNotFound if no row was deleted.
	Delete(ctx context.Context, id string) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
