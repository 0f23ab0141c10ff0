package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// Render implements preprocess.MemoryRenderer (spec §4.10 "Context
// integration"): it replaces the observed prefix of messages with a system
// message wrapping the chat's active Observation, optionally followed by a
// short "understood, continue" exchange derived from the Observation's
// suggested response.
func (r *Runner) Render(ctx context.Context, chatID uuid.UUID, messages []providers.Message) ([]providers.Message, int, bool) {
	obs, err := r.repos.Observations.Latest(ctx, chatID)
	if err != nil || obs == nil {
		return nil, 0, false
	}

	unobserved, err := r.repos.Messages.ListAfter(ctx, chatID, obs.ObservedUpToMessageID)
	if err != nil {
		return nil, 0, false
	}
	unobservedFrom := len(messages) - len(unobserved)
	if unobservedFrom < 0 {
		unobservedFrom = 0
	}
	if unobservedFrom > len(messages) {
		unobservedFrom = len(messages)
	}

	rendered := []providers.Message{
		{Role: string(store.RoleSystem), Content: "<observations>\n" + obs.Content + "\n</observations>"},
	}
	if obs.SuggestedResponse != "" {
		rendered = append(rendered,
			providers.Message{Role: string(store.RoleUser), Content: "Continue from the summarized context above."},
			providers.Message{Role: string(store.RoleAssistant), Content: obs.SuggestedResponse},
		)
	}
	return rendered, unobservedFrom, true
}
