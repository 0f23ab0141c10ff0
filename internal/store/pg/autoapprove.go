package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// AutoApproveRuleRepo implements store.AutoApproveRuleRepo.
type AutoApproveRuleRepo struct{ db *sql.DB }

func NewAutoApproveRuleRepo(db *sql.DB) *AutoApproveRuleRepo { return &AutoApproveRuleRepo{db: db} }

func (r *AutoApproveRuleRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*store.AutoApproveRuleRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, project_id, tool, path, extension, directory, pattern, enabled, created_at
		 FROM auto_approve_rules WHERE project_id = $1 AND enabled = true ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("pg: list auto approve rules: %w", err)
	}
	defer rows.Close()

	var out []*store.AutoApproveRuleRow
	for rows.Next() {
		var rule store.AutoApproveRuleRow
		var tool, path, ext, dir, pattern sql.NullString
		if err := rows.Scan(&rule.ID, &rule.ProjectID, &tool, &path, &ext, &dir, &pattern, &rule.Enabled, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.Tool, rule.Path, rule.Extension, rule.Directory, rule.Pattern = tool.String, path.String, ext.String, dir.String, pattern.String
		out = append(out, &rule)
	}
	return out, rows.Err()
}

func (r *AutoApproveRuleRepo) Create(ctx context.Context, rule *store.AutoApproveRuleRow) error {
	if rule.ID == uuid.Nil {
		rule.ID = store.GenNewID()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auto_approve_rules (id, project_id, tool, path, extension, directory, pattern, enabled, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rule.ID, rule.ProjectID, nilStr(rule.Tool), nilStr(rule.Path), nilStr(rule.Extension), nilStr(rule.Directory), nilStr(rule.Pattern), rule.Enabled, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: create auto approve rule: %w", err)
	}
	return nil
}

func (r *AutoApproveRuleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM auto_approve_rules WHERE id = $1`, id)
	return err
}
