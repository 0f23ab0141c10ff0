package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// ProjectRepo implements store.ProjectRepo.
type ProjectRepo struct{ db *sql.DB }

func NewProjectRepo(db *sql.DB) *ProjectRepo { return &ProjectRepo{db: db} }

func (r *ProjectRepo) Create(ctx context.Context, p *store.Project) error {
	if p.ID == uuid.Nil {
		p.ID = store.GenNewID()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, path, sort_order, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.Name, p.Path, p.SortOrder, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: create project: %w", err)
	}
	return nil
}

func (r *ProjectRepo) Get(ctx context.Context, id uuid.UUID) (*store.Project, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, path, sort_order, created_at, updated_at FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

func (r *ProjectRepo) List(ctx context.Context) ([]*store.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, path, sort_order, created_at, updated_at FROM projects ORDER BY sort_order, created_at`)
	if err != nil {
		return nil, fmt.Errorf("pg: list projects: %w", err)
	}
	defer rows.Close()

	var out []*store.Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ProjectRepo) Update(ctx context.Context, p *store.Project) error {
	p.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`UPDATE projects SET name = $2, path = $3, sort_order = $4, updated_at = $5 WHERE id = $1`,
		p.ID, p.Name, p.Path, p.SortOrder, p.UpdatedAt)
	return err
}

func (r *ProjectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	// ON DELETE CASCADE from chats down through every owned entity (schema).
	_, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row *sql.Row) (*store.Project, error) {
	p, err := scanProjectRow(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return p, err
}

func scanProjectRows(rows *sql.Rows) (*store.Project, error) { return scanProjectRow(rows) }

func scanProjectRow(s rowScanner) (*store.Project, error) {
	var p store.Project
	if err := s.Scan(&p.ID, &p.Name, &p.Path, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
