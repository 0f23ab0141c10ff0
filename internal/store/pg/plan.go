package pg

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// ProjectPlanRepo implements store.ProjectPlanRepo, carrying the original
// plan_service.py's revision-counter and content-hash bookkeeping: an Update
// whose ContentSHA256 differs from the stored one bumps Revision and appends
// a ProjectPlanRevision row in the same transaction.
type ProjectPlanRepo struct{ db *sql.DB }

func NewProjectPlanRepo(db *sql.DB) *ProjectPlanRepo { return &ProjectPlanRepo{db: db} }

const planSelectCols = `id, chat_id, project_id, checkpoint_id, title, status, file_path, revision,
	content_sha256, last_editor, approved_action, implementation_chat_id, created_at, updated_at`

func (r *ProjectPlanRepo) Create(ctx context.Context, p *store.ProjectPlan) error {
	if p.ID == uuid.Nil {
		p.ID = store.GenNewID()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Revision == 0 {
		p.Revision = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO project_plans (id, chat_id, project_id, checkpoint_id, title, status, file_path, revision,
		  content_sha256, last_editor, approved_action, implementation_chat_id, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.ChatID, p.ProjectID, p.CheckpointID, p.Title, p.Status, p.FilePath, p.Revision,
		p.ContentSHA256, p.LastEditor, nilStr(p.ApprovedAction), nilUUID(derefUUIDPtr(p.ImplementationChatID)), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: create project plan: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO project_plan_revisions (id, plan_id, revision, content_sha256, editor, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		store.GenNewID(), p.ID, p.Revision, p.ContentSHA256, p.LastEditor, now)
	if err != nil {
		return fmt.Errorf("pg: create initial plan revision: %w", err)
	}
	return nil
}

func (r *ProjectPlanRepo) Get(ctx context.Context, id uuid.UUID) (*store.ProjectPlan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+planSelectCols+` FROM project_plans WHERE id = $1`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return p, err
}

func (r *ProjectPlanRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*store.ProjectPlan, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+planSelectCols+` FROM project_plans WHERE chat_id = $1 ORDER BY created_at`, chatID)
	if err != nil {
		return nil, fmt.Errorf("pg: list project plans: %w", err)
	}
	defer rows.Close()

	var out []*store.ProjectPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update compares p.ContentSHA256, which the caller sets (planstore hashes
// the on-disk plan markdown with HashContent), against the stored hash. An
// identical hash dedups the update the way plan_service.py did: nothing is
// written. Otherwise it bumps Revision, persists the row, and appends a
// ProjectPlanRevision.
func (r *ProjectPlanRepo) Update(ctx context.Context, p *store.ProjectPlan, editor string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg: begin plan update tx: %w", err)
	}
	defer tx.Rollback()

	var currentHash string
	var currentRevision int
	if err := tx.QueryRowContext(ctx,
		`SELECT content_sha256, revision FROM project_plans WHERE id = $1 FOR UPDATE`, p.ID,
	).Scan(&currentHash, &currentRevision); err != nil {
		return fmt.Errorf("pg: lock project plan: %w", err)
	}

	if p.ContentSHA256 == currentHash {
		// Dedup: identical content, no new revision (plan_service.py semantics).
		return tx.Commit()
	}

	p.Revision = currentRevision + 1
	p.LastEditor = editor
	p.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`UPDATE project_plans SET title = $2, status = $3, revision = $4, content_sha256 = $5,
		  last_editor = $6, approved_action = $7, implementation_chat_id = $8, updated_at = $9
		 WHERE id = $1`,
		p.ID, p.Title, p.Status, p.Revision, p.ContentSHA256, p.LastEditor,
		nilStr(p.ApprovedAction), nilUUID(derefUUIDPtr(p.ImplementationChatID)), p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("pg: update project plan: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_plan_revisions (id, plan_id, revision, content_sha256, editor, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		store.GenNewID(), p.ID, p.Revision, p.ContentSHA256, editor, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("pg: insert plan revision: %w", err)
	}
	return tx.Commit()
}

// DeleteAfter removes plans created at or after cutoff, cascading to their
// revisions via the project_plan_revisions FK (RevertEngine, spec §4.12).
func (r *ProjectPlanRepo) DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM project_plans WHERE chat_id = $1 AND created_at >= $2`, chatID, after)
	if err != nil {
		return fmt.Errorf("pg: delete project plans after: %w", err)
	}
	return nil
}

func (r *ProjectPlanRepo) ListRevisions(ctx context.Context, planID uuid.UUID) ([]*store.ProjectPlanRevision, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, plan_id, revision, content_sha256, editor, created_at FROM project_plan_revisions WHERE plan_id = $1 ORDER BY revision`, planID)
	if err != nil {
		return nil, fmt.Errorf("pg: list plan revisions: %w", err)
	}
	defer rows.Close()

	var out []*store.ProjectPlanRevision
	for rows.Next() {
		var rev store.ProjectPlanRevision
		if err := rows.Scan(&rev.ID, &rev.PlanID, &rev.Revision, &rev.ContentSHA256, &rev.Editor, &rev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rev)
	}
	return out, rows.Err()
}

func scanPlan(s rowScanner) (*store.ProjectPlan, error) {
	var p store.ProjectPlan
	var approvedAction sql.NullString
	var implChatID uuid.NullUUID
	if err := s.Scan(&p.ID, &p.ChatID, &p.ProjectID, &p.CheckpointID, &p.Title, &p.Status, &p.FilePath, &p.Revision,
		&p.ContentSHA256, &p.LastEditor, &approvedAction, &implChatID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ApprovedAction = approvedAction.String
	if implChatID.Valid {
		id := implChatID.UUID
		p.ImplementationChatID = &id
	}
	return &p, nil
}

// HashContent computes the sha256 hex digest used for plan dedup.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
