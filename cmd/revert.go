package cmd

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/codeloom/internal/bus"
	"github.com/nextlevelbuilder/codeloom/internal/memory"
	"github.com/nextlevelbuilder/codeloom/internal/revert"
	"github.com/nextlevelbuilder/codeloom/internal/store/pg"
)

func revertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <chat-id> <checkpoint-id>",
		Short: "Roll a chat back to a checkpoint from the command line",
		Long: "revert restores every file touched at or after the checkpoint to its snapshot and " +
			"deletes chat state created after it. It runs outside a live server, so no AgentLoop " +
			"task is cancelled first; refuse this against a chat with an active run.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid chat id: %w", err)
			}
			checkpointID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid checkpoint id: %w", err)
			}

			dsn, err := resolveDSN()
			if err != nil {
				return err
			}
			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			ctx := context.Background()
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}

			repos := pg.NewRepos(db)
			msgBus := bus.New()
			memRunner := memory.New(repos, msgBus, nil, "", memory.DefaultConfig())
			engine := revert.New(repos, msgBus, memRunner, nil)

			if err := engine.RevertToCheckpoint(ctx, chatID, checkpointID); err != nil {
				return fmt.Errorf("revert: %w", err)
			}
			fmt.Printf("reverted chat %s to checkpoint %s\n", chatID, checkpointID)
			return nil
		},
	}
	return cmd
}
