package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// ObservationRepo implements store.ObservationRepo.
type ObservationRepo struct{ db *sql.DB }

func NewObservationRepo(db *sql.DB) *ObservationRepo { return &ObservationRepo{db: db} }

const observationSelectCols = `id, chat_id, generation, content, token_count, trigger_token_count,
	observed_up_to_message_id, current_task, suggested_response, created_at`

func (r *ObservationRepo) Create(ctx context.Context, o *store.Observation) error {
	if o.ID == uuid.Nil {
		o.ID = store.GenNewID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO observations (id, chat_id, generation, content, token_count, trigger_token_count,
		  observed_up_to_message_id, current_task, suggested_response, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		o.ID, o.ChatID, o.Generation, o.Content, o.TokenCount, o.TriggerTokenCount,
		nilUUID(derefUUIDPtr(o.ObservedUpToMessageID)), nilStr(o.CurrentTask), nilStr(o.SuggestedResponse), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("pg: create observation: %w", err)
	}
	return nil
}

func (r *ObservationRepo) Latest(ctx context.Context, chatID uuid.UUID) (*store.Observation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+observationSelectCols+` FROM observations WHERE chat_id = $1 ORDER BY generation DESC LIMIT 1`, chatID)
	o, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return o, err
}

func (r *ObservationRepo) DeleteEarlierGenerations(ctx context.Context, chatID uuid.UUID, keepGeneration int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM observations WHERE chat_id = $1 AND generation < $2`, chatID, keepGeneration)
	return err
}

func (r *ObservationRepo) PruneDangling(ctx context.Context, chatID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM observations
		 WHERE chat_id = $1 AND observed_up_to_message_id IS NOT NULL
		   AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.id = observations.observed_up_to_message_id)`,
		chatID)
	return err
}

func scanObservation(s rowScanner) (*store.Observation, error) {
	var o store.Observation
	var observedUpTo uuid.NullUUID
	var currentTask, suggestedResponse sql.NullString
	if err := s.Scan(&o.ID, &o.ChatID, &o.Generation, &o.Content, &o.TokenCount, &o.TriggerTokenCount,
		&observedUpTo, &currentTask, &suggestedResponse, &o.CreatedAt); err != nil {
		return nil, err
	}
	if observedUpTo.Valid {
		id := observedUpTo.UUID
		o.ObservedUpToMessageID = &id
	}
	o.CurrentTask = currentTask.String
	o.SuggestedResponse = suggestedResponse.String
	return &o, nil
}
