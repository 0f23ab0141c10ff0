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

// MessageRepo implements store.MessageRepo.
type MessageRepo struct{ db *sql.DB }

func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

const messageSelectCols = `id, chat_id, role, content, checkpoint_id, attachments, created_at`

func (r *MessageRepo) Create(ctx context.Context, m *store.Message) error {
	if m.ID == uuid.Nil {
		m.ID = store.GenNewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, checkpoint_id, attachments, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.ChatID, m.Role, m.Content, nilUUID(derefUUIDPtr(m.CheckpointID)), jsonArrayOrEmpty(m.Attachments), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: create message: %w", err)
	}
	return nil
}

func (r *MessageRepo) Get(ctx context.Context, id uuid.UUID) (*store.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageSelectCols+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return m, err
}

func (r *MessageRepo) ListByChat(ctx context.Context, chatID uuid.UUID) ([]*store.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageSelectCols+` FROM messages WHERE chat_id = $1 ORDER BY created_at`, chatID)
	if err != nil {
		return nil, fmt.Errorf("pg: list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *MessageRepo) ListAfter(ctx context.Context, chatID uuid.UUID, afterID *uuid.UUID) ([]*store.Message, error) {
	if afterID == nil {
		return r.ListByChat(ctx, chatID)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageSelectCols+` FROM messages
		 WHERE chat_id = $1 AND created_at > (SELECT created_at FROM messages WHERE id = $2)
		 ORDER BY created_at`, chatID, *afterID)
	if err != nil {
		return nil, fmt.Errorf("pg: list messages after: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *MessageRepo) Rewrite(ctx context.Context, id uuid.UUID, content string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET content = $2 WHERE id = $1`, id, content)
	return err
}

func (r *MessageRepo) DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = $1 AND created_at > $2`, chatID, after.UTC())
	return err
}

func (r *MessageRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func scanMessages(rows *sql.Rows) ([]*store.Message, error) {
	var out []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(s rowScanner) (*store.Message, error) {
	var m store.Message
	var checkpointID uuid.NullUUID
	var attachments []byte
	if err := s.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &checkpointID, &attachments, &m.CreatedAt); err != nil {
		return nil, err
	}
	if checkpointID.Valid {
		id := checkpointID.UUID
		m.CheckpointID = &id
	}
	if len(attachments) > 0 {
		_ = json.Unmarshal(attachments, &m.Attachments)
	}
	return &m, nil
}
