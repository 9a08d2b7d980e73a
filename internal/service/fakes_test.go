package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pyqapi/internal/model"
	"pyqapi/internal/repository"
)

// memRepo is an in-memory PaperRepository with the same ordering and matching rules as the SQL store.
type memRepo struct {
	mu   sync.Mutex
	seq  int
	rows []memRow
}

type memRow struct {
	seq   int
	paper model.Paper
}

func newMemRepo() *memRepo { return &memRepo{} }

func (r *memRepo) Create(_ context.Context, p *model.Paper) (*model.Paper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	cp := *p
	r.rows = append(r.rows, memRow{seq: r.seq, paper: cp})
	return &cp, nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*model.Paper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.paper.ID == id {
			cp := row.paper
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRepo) List(_ context.Context, f model.PaperFilter, pq repository.PageQuery) (*repository.PageResult[model.Paper], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []memRow
	for _, row := range r.rows {
		p := row.paper
		if f.Department != "" && p.Department != f.Department {
			continue
		}
		if f.Semester != 0 && p.Semester != f.Semester {
			continue
		}
		if f.Year != 0 && p.Year != f.Year {
			continue
		}
		if f.Subject != "" && !strings.Contains(strings.ToLower(p.Subject), strings.ToLower(f.Subject)) {
			continue
		}
		matched = append(matched, row)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.paper.CreatedAt.Equal(b.paper.CreatedAt) {
			return a.paper.CreatedAt.After(b.paper.CreatedAt)
		}
		return a.seq < b.seq
	})

	total := len(matched)
	if pq.Limit > 0 {
		if pq.Offset >= len(matched) {
			matched = nil
		} else {
			end := pq.Offset + pq.Limit
			if end > len(matched) {
				end = len(matched)
			}
			matched = matched[pq.Offset:end]
		}
	}
	items := make([]model.Paper, 0, len(matched))
	for _, row := range matched {
		items = append(items, row.paper)
	}
	return &repository.PageResult[model.Paper]{Items: items, Total: total}, nil
}

func (r *memRepo) CountSince(_ context.Context, t time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, row := range r.rows {
		if !row.paper.CreatedAt.Before(t) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, row := range r.rows {
		if row.paper.ID == id {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

// memCache is an in-memory AssetCache that records deletes.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deleted []string
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, id string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[id]
	return b, ok, nil
}

func (c *memCache) Set(_ context.Context, id string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = data
	return nil
}

func (c *memCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
	c.deleted = append(c.deleted, id)
	return nil
}

// offsetRecorder remembers the offset of the last List call.
type offsetRecorder struct {
	*memRepo
	offset int
}

func (r *offsetRecorder) List(ctx context.Context, f model.PaperFilter, pq repository.PageQuery) (*repository.PageResult[model.Paper], error) {
	r.offset = pq.Offset
	return r.memRepo.List(ctx, f, pq)
}
