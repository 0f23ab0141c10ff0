package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// FileEditRepo implements store.FileEditRepo.
type FileEditRepo struct{ db *sql.DB }

func NewFileEditRepo(db *sql.DB) *FileEditRepo { return &FileEditRepo{db: db} }

const fileEditSelectCols = `id, chat_id, checkpoint_id, tool_call_id, path, action, diff, snapshot_id, created_at`

func (r *FileEditRepo) Create(ctx context.Context, fe *store.FileEdit) error {
	if fe.ID == uuid.Nil {
		fe.ID = store.GenNewID()
	}
	if fe.CreatedAt.IsZero() {
		fe.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO file_edits (id, chat_id, checkpoint_id, tool_call_id, path, action, diff, snapshot_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		fe.ID, fe.ChatID, fe.CheckpointID, fe.ToolCallID, fe.Path, fe.Action, fe.Diff, nilUUID(derefUUIDPtr(fe.SnapshotID)), fe.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: create file edit: %w", err)
	}
	return nil
}

func (r *FileEditRepo) Get(ctx context.Context, id uuid.UUID) (*store.FileEdit, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileEditSelectCols+` FROM file_edits WHERE id = $1`, id)
	fe, err := scanFileEdit(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return fe, err
}

func (r *FileEditRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*store.FileEdit, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+fileEditSelectCols+` FROM file_edits WHERE chat_id = $1 ORDER BY created_at`, chatID)
	if err != nil {
		return nil, fmt.Errorf("pg: list file edits: %w", err)
	}
	defer rows.Close()
	return scanFileEdits(rows)
}

func (r *FileEditRepo) ListFrom(ctx context.Context, chatID uuid.UUID, at time.Time) ([]*store.FileEdit, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fileEditSelectCols+` FROM file_edits WHERE chat_id = $1 AND created_at >= $2 ORDER BY created_at`, chatID, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("pg: list file edits from: %w", err)
	}
	defer rows.Close()
	return scanFileEdits(rows)
}

func (r *FileEditRepo) DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM file_edits WHERE chat_id = $1 AND created_at > $2`, chatID, after.UTC())
	return err
}

func (r *FileEditRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM file_edits WHERE id = $1`, id)
	return err
}

func scanFileEdits(rows *sql.Rows) ([]*store.FileEdit, error) {
	var out []*store.FileEdit
	for rows.Next() {
		fe, err := scanFileEdit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fe)
	}
	return out, rows.Err()
}

func scanFileEdit(s rowScanner) (*store.FileEdit, error) {
	var fe store.FileEdit
	var snapshotID uuid.NullUUID
	if err := s.Scan(&fe.ID, &fe.ChatID, &fe.CheckpointID, &fe.ToolCallID, &fe.Path, &fe.Action, &fe.Diff, &snapshotID, &fe.CreatedAt); err != nil {
		return nil, err
	}
	if snapshotID.Valid {
		id := snapshotID.UUID
		fe.SnapshotID = &id
	}
	return &fe, nil
}

// FileSnapshotRepo implements store.FileSnapshotRepo.
type FileSnapshotRepo struct{ db *sql.DB }

func NewFileSnapshotRepo(db *sql.DB) *FileSnapshotRepo { return &FileSnapshotRepo{db: db} }

const fileSnapshotSelectCols = `id, chat_id, checkpoint_id, file_edit_id, path, content, created_at`

func (r *FileSnapshotRepo) Create(ctx context.Context, fs *store.FileSnapshot) error {
	if fs.ID == uuid.Nil {
		fs.ID = store.GenNewID()
	}
	if fs.CreatedAt.IsZero() {
		fs.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO file_snapshots (id, chat_id, checkpoint_id, file_edit_id, path, content, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		fs.ID, fs.ChatID, nilUUID(derefUUIDPtr(fs.CheckpointID)), nilUUID(derefUUIDPtr(fs.FileEditID)), fs.Path, fs.Content, fs.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: create file snapshot: %w", err)
	}
	return nil
}

func (r *FileSnapshotRepo) Get(ctx context.Context, id uuid.UUID) (*store.FileSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileSnapshotSelectCols+` FROM file_snapshots WHERE id = $1`, id)
	fs, err := scanFileSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return fs, err
}

func (r *FileSnapshotRepo) GetByFileEdit(ctx context.Context, fileEditID uuid.UUID) (*store.FileSnapshot, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileSnapshotSelectCols+` FROM file_snapshots WHERE file_edit_id = $1`, fileEditID)
	fs, err := scanFileSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return fs, err
}

func scanFileSnapshot(s rowScanner) (*store.FileSnapshot, error) {
	var fs store.FileSnapshot
	var checkpointID, fileEditID uuid.NullUUID
	if err := s.Scan(&fs.ID, &fs.ChatID, &checkpointID, &fileEditID, &fs.Path, &fs.Content, &fs.CreatedAt); err != nil {
		return nil, err
	}
	if checkpointID.Valid {
		id := checkpointID.UUID
		fs.CheckpointID = &id
	}
	if fileEditID.Valid {
		id := fileEditID.UUID
		fs.FileEditID = &id
	}
	return &fs, nil
}
