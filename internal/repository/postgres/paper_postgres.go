package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pyqapi/internal/model"
	"pyqapi/internal/repository"
)

const paperColumns = `id, subject, department, semester, year, locator, storage_key, uploaded_by, download_count, created_at`

// PaperPostgres is a PostgreSQL implementation of repository.PaperRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type PaperPostgres struct {
	db *sql.DB
}

// NewPaperPostgres creates a new PaperPostgres repository.
func NewPaperPostgres(db *sql.DB) *PaperPostgres {
	return &PaperPostgres{db: db}
}

var _ repository.PaperRepository = (*PaperPostgres)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (*model.Paper, error) {
	var p model.Paper
	if err := row.Scan(
		&p.ID,
		&p.Subject,
		&p.Department,
		&p.Semester,
		&p.Year,
		&p.Locator,
		&p.StorageKey,
		&p.UploadedBy,
		&p.DownloadCount,
		&p.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new paper row and returns the stored record.
func (r *PaperPostgres) Create(ctx context.Context, p *model.Paper) (*model.Paper, error) {
	const q = `
		INSERT INTO papers (id, subject, department, semester, year, locator, storage_key, uploaded_by, download_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + paperColumns
	row := r.db.QueryRowContext(ctx, q,
		p.ID,
		p.Subject,
		p.Department,
		p.Semester,
		p.Year,
		p.Locator,
		p.StorageKey,
		p.UploadedBy,
		p.DownloadCount,
		p.CreatedAt,
	)
	return scanPaper(row)
}

// FindByID fetches a single paper by its ID.
func (r *PaperPostgres) FindByID(ctx context.Context, id string) (*model.Paper, error) {
	const q = `SELECT ` + paperColumns + ` FROM papers WHERE id = $1`
	p, err := scanPaper(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// List returns papers matching the filter ordered by recency, plus the total match count.
// Ties on created_at keep insertion order.
func (r *PaperPostgres) List(ctx context.Context, f model.PaperFilter, pq repository.PageQuery) (*repository.PageResult[model.Paper], error) {
	where, args := buildWhere(f)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers`+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	q := `SELECT ` + paperColumns + ` FROM papers` + where + ` ORDER BY created_at DESC, seq ASC`
	if pq.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, pq.Limit, pq.Offset)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Paper, 0)
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Paper]{
		Items: items,
		Total: total,
	}, nil
}

// CountSince counts papers created at or after t.
func (r *PaperPostgres) CountSince(ctx context.Context, t time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM papers WHERE created_at >= $1`
	var n int
	if err := r.db.QueryRowContext(ctx, q, t).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Delete removes a paper by ID.
func (r *PaperPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM papers WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// buildWhere renders the filter as a WHERE clause with positional arguments.
func buildWhere(f model.PaperFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Department != "" {
		add("department = $%d", f.Department)
	}
	if f.Semester != 0 {
		add("semester = $%d", f.Semester)
	}
	if f.Year != 0 {
		add("year = $%d", f.Year)
	}
	if f.Subject != "" {
		add(`subject ILIKE $%d ESCAPE '\'`, "%"+escapeLike(f.Subject)+"%")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
