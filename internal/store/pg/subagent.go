package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// SubAgentRunRepo implements store.SubAgentRunRepo.
type SubAgentRunRepo struct{ db *sql.DB }

func NewSubAgentRunRepo(db *sql.DB) *SubAgentRunRepo { return &SubAgentRunRepo{db: db} }

const subAgentSelectCols = `id, chat_id, parent_tool_call_id, task, model, status, output, duration_millis, created_at, completed_at`

func (r *SubAgentRunRepo) Create(ctx context.Context, run *store.SubAgentRun) error {
	if run.ID == uuid.Nil {
		run.ID = store.GenNewID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = store.SubAgentRunning
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sub_agent_runs (id, chat_id, parent_tool_call_id, task, model, status, output, duration_millis, created_at, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		run.ID, run.ChatID, run.ParentToolCall, run.Task, run.Model, run.Status, run.Output, run.DurationMillis, run.CreatedAt, nilTime(run.CompletedAt))
	if err != nil {
		return fmt.Errorf("pg: create sub agent run: %w", err)
	}
	return nil
}

func (r *SubAgentRunRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status store.SubAgentStatus, output string, completedAt *time.Time) error {
	var durationMillis int64
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, `SELECT created_at FROM sub_agent_runs WHERE id = $1`, id).Scan(&createdAt); err != nil {
		return err
	}
	if completedAt != nil {
		durationMillis = completedAt.Sub(createdAt).Milliseconds()
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE sub_agent_runs SET status = $2, output = $3, duration_millis = $4, completed_at = $5 WHERE id = $1`,
		id, status, output, durationMillis, nilTime(completedAt))
	return err
}

func (r *SubAgentRunRepo) Get(ctx context.Context, id uuid.UUID) (*store.SubAgentRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subAgentSelectCols+` FROM sub_agent_runs WHERE id = $1`, id)
	var run store.SubAgentRun
	var completedAt sql.NullTime
	err := row.Scan(&run.ID, &run.ChatID, &run.ParentToolCall, &run.Task, &run.Model, &run.Status, &run.Output,
		&run.DurationMillis, &run.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return &run, nil
}
