package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// CheckpointRepo implements store.CheckpointRepo.
type CheckpointRepo struct{ db *sql.DB }

func NewCheckpointRepo(db *sql.DB) *CheckpointRepo { return &CheckpointRepo{db: db} }

const checkpointSelectCols = `id, chat_id, message_id, label, created_at`

func (r *CheckpointRepo) Create(ctx context.Context, c *store.Checkpoint) error {
	if c.ID == uuid.Nil {
		c.ID = store.GenNewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, chat_id, message_id, label, created_at) VALUES ($1,$2,$3,$4,$5)`,
		c.ID, c.ChatID, c.MessageID, c.Label, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: create checkpoint: %w", err)
	}
	return nil
}

func (r *CheckpointRepo) Get(ctx context.Context, id uuid.UUID) (*store.Checkpoint, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+checkpointSelectCols+` FROM checkpoints WHERE id = $1`, id)
	c, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return c, err
}

func (r *CheckpointRepo) GetByMessage(ctx context.Context, messageID uuid.UUID) (*store.Checkpoint, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+checkpointSelectCols+` FROM checkpoints WHERE message_id = $1`, messageID)
	c, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return c, err
}

func (r *CheckpointRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*store.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+checkpointSelectCols+` FROM checkpoints WHERE chat_id = $1 ORDER BY created_at`, chatID)
	if err != nil {
		return nil, fmt.Errorf("pg: list checkpoints: %w", err)
	}
	defer rows.Close()
	var out []*store.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CheckpointRepo) DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE chat_id = $1 AND created_at > $2`, chatID, after.UTC())
	return err
}

func scanCheckpoint(s rowScanner) (*store.Checkpoint, error) {
	var c store.Checkpoint
	if err := s.Scan(&c.ID, &c.ChatID, &c.MessageID, &c.Label, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
