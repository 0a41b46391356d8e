package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/typedkv/typedkv/internal/repository"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Control the background checkpointer (CheckpointCapability, spec §6)",
}

func init() {
	checkpointCmd.AddCommand(&cobra.Command{
		Use:   "force",
		Short: "Run a checkpoint now and wait for it to complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(ctx context.Context, repo *repository.Repository) error {
				start := time.Now()
				if err := repo.ForceCheckpoint(ctx); err != nil {
					return err
				}
				fmt.Println(okStyle.Render(fmt.Sprintf("checkpoint completed in %s", time.Since(start))))
				return nil
			})
		},
	})

	suspendCmd := &cobra.Command{
		Use:   "suspend <duration>",
		Short: "Suspend the checkpointer until a later time, e.g. '10m' or 'in 10 minutes'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDuration(args[0])
			if err != nil {
				return err
			}
			return withRepository(func(ctx context.Context, repo *repository.Repository) error {
				repo.Suspend(d)
				fmt.Println(accentStyle.Render(fmt.Sprintf("checkpointer suspended for %s", d)))
				return nil
			})
		},
	}
	checkpointCmd.AddCommand(suspendCmd)

	checkpointCmd.AddCommand(&cobra.Command{
		Use:   "resume",
		Short: "Cancel a pending suspension",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(ctx context.Context, repo *repository.Repository) error {
				repo.Resume()
				fmt.Println(accentStyle.Render("checkpointer resumed"))
				return nil
			})
		},
	})
}
