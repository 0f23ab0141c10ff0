package pg

import (
	"database/sql"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// NewRepos wires every store.*Repo implementation against db, mirroring
// the teacher's NewPGStores factory (internal/store/pg/factory.go).
func NewRepos(db *sql.DB) *store.Repos {
	return &store.Repos{
		Projects:      NewProjectRepo(db),
		Chats:         NewChatRepo(db),
		Messages:      NewMessageRepo(db),
		Checkpoints:   NewCheckpointRepo(db),
		ToolCalls:     NewToolCallRepo(db),
		FileEdits:     NewFileEditRepo(db),
		FileSnapshots: NewFileSnapshotRepo(db),
		Reasoning:     NewReasoningBlockRepo(db),
		Artifacts:     NewToolArtifactRepo(db),
		Todos:         NewTodoRepo(db),
		Observations:  NewObservationRepo(db),
		MemoryStates:  NewMemoryStateRepo(db),
		SubAgentRuns:  NewSubAgentRunRepo(db),
		Plans:         NewProjectPlanRepo(db),
		AutoApprove:   NewAutoApproveRuleRepo(db),
	}
}
