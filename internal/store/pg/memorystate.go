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

// MemoryStateRepo implements store.MemoryStateRepo.
type MemoryStateRepo struct{ db *sql.DB }

func NewMemoryStateRepo(db *sql.DB) *MemoryStateRepo { return &MemoryStateRepo{db: db} }

func (r *MemoryStateRepo) Get(ctx context.Context, chatID uuid.UUID) (*store.MemoryState, error) {
	var m store.MemoryState
	var blob []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, chat_id, strategy, blob, updated_at FROM memory_states WHERE chat_id = $1`, chatID,
	).Scan(&m.ID, &m.ChatID, &m.Strategy, &blob, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	parsed, err := store.UnmarshalMemoryStateBlob(blob)
	if err != nil {
		return nil, fmt.Errorf("pg: unmarshal memory state blob: %w", err)
	}
	m.Blob = parsed
	return &m, nil
}

// Upsert inserts or replaces the chat's single MemoryState row.
func (r *MemoryStateRepo) Upsert(ctx context.Context, m *store.MemoryState) error {
	if m.ID == uuid.Nil {
		m.ID = store.GenNewID()
	}
	m.UpdatedAt = time.Now().UTC()
	blob, err := json.Marshal(m.Blob)
	if err != nil {
		return fmt.Errorf("pg: marshal memory state blob: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO memory_states (id, chat_id, strategy, blob, updated_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (chat_id) DO UPDATE SET strategy = $3, blob = $4, updated_at = $5`,
		m.ID, m.ChatID, m.Strategy, blob, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: upsert memory state: %w", err)
	}
	return nil
}
