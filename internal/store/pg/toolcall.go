package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// ToolCallRepo implements store.ToolCallRepo.
type ToolCallRepo struct{ db *sql.DB }

func NewToolCallRepo(db *sql.DB) *ToolCallRepo { return &ToolCallRepo{db: db} }

const toolCallSelectCols = `id, chat_id, checkpoint_id, tool_name, status, input, output_text,
	parallel_group, error_reason, created_at, started_at, completed_at, duration_millis`

func (r *ToolCallRepo) Create(ctx context.Context, tc *store.ToolCall) error {
	if tc.ID == uuid.Nil {
		tc.ID = store.GenNewID()
	}
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = time.Now().UTC()
	}
	if tc.Status == "" {
		tc.Status = store.ToolCallPending
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tool_calls (id, chat_id, checkpoint_id, tool_name, status, input, output_text,
		  parallel_group, error_reason, created_at, started_at, completed_at, duration_millis)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		tc.ID, tc.ChatID, tc.CheckpointID, tc.ToolName, tc.Status, jsonOrEmpty(tc.Input), tc.OutputText,
		nilUUID(derefUUIDPtr(tc.ParallelGroup)), nilStr(tc.ErrorReason), tc.CreatedAt, nilTime(tc.StartedAt), nilTime(tc.CompletedAt), tc.DurationMillis)
	if err != nil {
		return fmt.Errorf("pg: create tool call: %w", err)
	}
	return nil
}

// CreateBatch inserts every call in tcs within a single transaction — the
// "create all pending ToolCall rows in one commit" step of spec §4.8.
func (r *ToolCallRepo) CreateBatch(ctx context.Context, tcs []*store.ToolCall) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg: begin batch tool call tx: %w", err)
	}
	defer tx.Rollback()

	for _, tc := range tcs {
		if tc.ID == uuid.Nil {
			tc.ID = store.GenNewID()
		}
		if tc.CreatedAt.IsZero() {
			tc.CreatedAt = time.Now().UTC()
		}
		if tc.Status == "" {
			tc.Status = store.ToolCallPending
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tool_calls (id, chat_id, checkpoint_id, tool_name, status, input, output_text,
			  parallel_group, error_reason, created_at, started_at, completed_at, duration_millis)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			tc.ID, tc.ChatID, tc.CheckpointID, tc.ToolName, tc.Status, jsonOrEmpty(tc.Input), tc.OutputText,
			nilUUID(derefUUIDPtr(tc.ParallelGroup)), nilStr(tc.ErrorReason), tc.CreatedAt, nilTime(tc.StartedAt), nilTime(tc.CompletedAt), tc.DurationMillis,
		); err != nil {
			return fmt.Errorf("pg: batch insert tool call: %w", err)
		}
	}
	return tx.Commit()
}

func (r *ToolCallRepo) Get(ctx context.Context, id uuid.UUID) (*store.ToolCall, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+toolCallSelectCols+` FROM tool_calls WHERE id = $1`, id)
	tc, err := scanToolCall(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return tc, err
}

// UpdateStatus performs the state-machine transition (spec §4.8); callers
// are responsible for only requesting legal transitions (rejected only from
// pending).
func (r *ToolCallRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status store.ToolCallStatus, outputText, errorReason string) error {
	now := time.Now().UTC()
	switch status {
	case store.ToolCallRunning:
		_, err := r.db.ExecContext(ctx, `UPDATE tool_calls SET status = $2, started_at = $3 WHERE id = $1`, id, status, now)
		return err
	case store.ToolCallCompleted, store.ToolCallError, store.ToolCallRejected:
		var startedAt sql.NullTime
		if err := r.db.QueryRowContext(ctx, `SELECT started_at FROM tool_calls WHERE id = $1`, id).Scan(&startedAt); err != nil {
			return err
		}
		var durationMillis int64
		if startedAt.Valid {
			durationMillis = now.Sub(startedAt.Time).Milliseconds()
		}
		_, err := r.db.ExecContext(ctx,
			`UPDATE tool_calls SET status = $2, output_text = $3, error_reason = $4, completed_at = $5, duration_millis = $6 WHERE id = $1`,
			id, status, outputText, nilStr(errorReason), now, durationMillis)
		return err
	default:
		_, err := r.db.ExecContext(ctx, `UPDATE tool_calls SET status = $2 WHERE id = $1`, id, status)
		return err
	}
}

func (r *ToolCallRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*store.ToolCall, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+toolCallSelectCols+` FROM tool_calls WHERE chat_id = $1 ORDER BY created_at`, chatID)
	if err != nil {
		return nil, fmt.Errorf("pg: list tool calls: %w", err)
	}
	defer rows.Close()
	return scanToolCalls(rows)
}

func (r *ToolCallRepo) ListByCheckpoint(ctx context.Context, checkpointID uuid.UUID) ([]*store.ToolCall, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+toolCallSelectCols+` FROM tool_calls WHERE checkpoint_id = $1 ORDER BY created_at`, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("pg: list tool calls by checkpoint: %w", err)
	}
	defer rows.Close()
	return scanToolCalls(rows)
}

func (r *ToolCallRepo) DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tool_calls WHERE chat_id = $1 AND created_at > $2`, chatID, after.UTC())
	return err
}

func scanToolCalls(rows *sql.Rows) ([]*store.ToolCall, error) {
	var out []*store.ToolCall
	for rows.Next() {
		tc, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func scanToolCall(s rowScanner) (*store.ToolCall, error) {
	var tc store.ToolCall
	var input []byte
	var parallelGroup uuid.NullUUID
	var errorReason sql.NullString
	var startedAt, completedAt sql.NullTime
	if err := s.Scan(&tc.ID, &tc.ChatID, &tc.CheckpointID, &tc.ToolName, &tc.Status, &input, &tc.OutputText,
		&parallelGroup, &errorReason, &tc.CreatedAt, &startedAt, &completedAt, &tc.DurationMillis); err != nil {
		return nil, err
	}
	if len(input) > 0 {
		_ = json.Unmarshal(input, &tc.Input)
	}
	if parallelGroup.Valid {
		id := parallelGroup.UUID
		tc.ParallelGroup = &id
	}
	tc.ErrorReason = errorReason.String
	if startedAt.Valid {
		t := startedAt.Time
		tc.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		tc.CompletedAt = &t
	}
	return &tc, nil
}
