package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// ToolArtifactRepo implements store.ToolArtifactRepo.
type ToolArtifactRepo struct{ db *sql.DB }

func NewToolArtifactRepo(db *sql.DB) *ToolArtifactRepo { return &ToolArtifactRepo{db: db} }

const artifactSelectCols = `id, tool_call_id, chat_id, project_id, kind, path, line_count, preview_lines, created_at`

func (r *ToolArtifactRepo) Create(ctx context.Context, a *store.ToolArtifact) error {
	if a.ID == uuid.Nil {
		a.ID = store.GenNewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tool_artifacts (id, tool_call_id, chat_id, project_id, kind, path, line_count, preview_lines, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.ToolCallID, a.ChatID, a.ProjectID, a.Kind, a.Path, a.LineCount, a.PreviewLines, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: create tool artifact: %w", err)
	}
	return nil
}

func (r *ToolArtifactRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*store.ToolArtifact, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+artifactSelectCols+` FROM tool_artifacts WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("pg: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*store.ToolArtifact
	for rows.Next() {
		var a store.ToolArtifact
		if err := rows.Scan(&a.ID, &a.ToolCallID, &a.ChatID, &a.ProjectID, &a.Kind, &a.Path, &a.LineCount, &a.PreviewLines, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *ToolArtifactRepo) DeleteByProject(ctx context.Context, projectID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tool_artifacts WHERE project_id = $1`, projectID)
	return err
}

func (r *ToolArtifactRepo) DeleteByChat(ctx context.Context, chatID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tool_artifacts WHERE chat_id = $1`, chatID)
	return err
}
