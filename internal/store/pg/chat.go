package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// ChatRepo implements store.ChatRepo.
type ChatRepo struct{ db *sql.DB }

func NewChatRepo(db *sql.DB) *ChatRepo { return &ChatRepo{db: db} }

func (r *ChatRepo) Create(ctx context.Context, c *store.Chat) error {
	if c.ID == uuid.Nil {
		c.ID = store.GenNewID()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chats (id, project_id, title, pinned, sort_order, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.ProjectID, c.Title, c.Pinned, c.SortOrder, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: create chat: %w", err)
	}
	return nil
}

const chatSelectCols = `id, project_id, title, pinned, sort_order, created_at, updated_at`

func (r *ChatRepo) Get(ctx context.Context, id uuid.UUID) (*store.Chat, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+chatSelectCols+` FROM chats WHERE id = $1`, id)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return c, err
}

func (r *ChatRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*store.Chat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+chatSelectCols+` FROM chats WHERE project_id = $1 ORDER BY pinned DESC, sort_order, created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("pg: list chats: %w", err)
	}
	defer rows.Close()
	var out []*store.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ChatRepo) Update(ctx context.Context, c *store.Chat) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`UPDATE chats SET title = $2, pinned = $3, sort_order = $4, updated_at = $5 WHERE id = $1`,
		c.ID, c.Title, c.Pinned, c.SortOrder, c.UpdatedAt)
	return err
}

func (r *ChatRepo) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET updated_at = $2 WHERE id = $1`, id, at.UTC())
	return err
}

func (r *ChatRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, id)
	return err
}

func scanChat(s rowScanner) (*store.Chat, error) {
	var c store.Chat
	if err := s.Scan(&c.ID, &c.ProjectID, &c.Title, &c.Pinned, &c.SortOrder, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
