package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// TodoRepo implements store.TodoRepo.
type TodoRepo struct{ db *sql.DB }

func NewTodoRepo(db *sql.DB) *TodoRepo { return &TodoRepo{db: db} }

const todoSelectCols = `id, chat_id, checkpoint_id, content, status, sort_order, created_at`

// ReplaceAll overwrites the chat's entire todo list in one transaction,
// matching update_todo_list's idempotent-replace contract (spec §8: calling
// twice with the same payload leaves the same todo set).
func (r *TodoRepo) ReplaceAll(ctx context.Context, chatID uuid.UUID, checkpointID *uuid.UUID, todos []*store.Todo) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg: begin replace todos tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("pg: clear todos: %w", err)
	}

	now := time.Now().UTC()
	for i, t := range todos {
		if t.ID == uuid.Nil {
			t.ID = store.GenNewID()
		}
		t.ChatID = chatID
		t.CheckpointID = checkpointID
		t.SortOrder = i
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO todos (id, chat_id, checkpoint_id, content, status, sort_order, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			t.ID, t.ChatID, nilUUID(derefUUIDPtr(t.CheckpointID)), t.Content, t.Status, t.SortOrder, t.CreatedAt,
		); err != nil {
			return fmt.Errorf("pg: insert todo: %w", err)
		}
	}
	return tx.Commit()
}

func (r *TodoRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*store.Todo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+todoSelectCols+` FROM todos WHERE chat_id = $1 ORDER BY sort_order`, chatID)
	if err != nil {
		return nil, fmt.Errorf("pg: list todos: %w", err)
	}
	defer rows.Close()

	var out []*store.Todo
	for rows.Next() {
		var t store.Todo
		var checkpointID uuid.NullUUID
		if err := rows.Scan(&t.ID, &t.ChatID, &checkpointID, &t.Content, &t.Status, &t.SortOrder, &t.CreatedAt); err != nil {
			return nil, err
		}
		if checkpointID.Valid {
			id := checkpointID.UUID
			t.CheckpointID = &id
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *TodoRepo) DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM todos WHERE chat_id = $1 AND created_at > $2`, chatID, after.UTC())
	return err
}
