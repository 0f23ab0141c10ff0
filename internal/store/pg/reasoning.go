package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// ReasoningBlockRepo implements store.ReasoningBlockRepo.
type ReasoningBlockRepo struct{ db *sql.DB }

func NewReasoningBlockRepo(db *sql.DB) *ReasoningBlockRepo { return &ReasoningBlockRepo{db: db} }

const reasoningSelectCols = `id, chat_id, checkpoint_id, content, duration_millis, created_at`

func (r *ReasoningBlockRepo) Create(ctx context.Context, rb *store.ReasoningBlock) error {
	if rb.ID == uuid.Nil {
		rb.ID = store.GenNewID()
	}
	if rb.CreatedAt.IsZero() {
		rb.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reasoning_blocks (id, chat_id, checkpoint_id, content, duration_millis, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		rb.ID, rb.ChatID, rb.CheckpointID, rb.Content, rb.DurationMillis, rb.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: create reasoning block: %w", err)
	}
	return nil
}

func (r *ReasoningBlockRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*store.ReasoningBlock, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+reasoningSelectCols+` FROM reasoning_blocks WHERE chat_id = $1 ORDER BY created_at`, chatID)
	if err != nil {
		return nil, fmt.Errorf("pg: list reasoning blocks: %w", err)
	}
	defer rows.Close()
	var out []*store.ReasoningBlock
	for rows.Next() {
		var rb store.ReasoningBlock
		if err := rows.Scan(&rb.ID, &rb.ChatID, &rb.CheckpointID, &rb.Content, &rb.DurationMillis, &rb.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rb)
	}
	return out, rows.Err()
}

func (r *ReasoningBlockRepo) DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM reasoning_blocks WHERE chat_id = $1 AND created_at > $2`, chatID, after.UTC())
	return err
}
