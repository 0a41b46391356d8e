package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/typedkv/typedkv/internal/repository"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Drive a hot backup window (HotBackupCapability, spec §6)",
}

func init() {
	backupCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Enter backup mode and print the files a full backup should copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(ctx context.Context, repo *repository.Repository) error {
				if err := repo.StartBackup(ctx); err != nil {
					return err
				}
				files, err := repo.BackupFiles(ctx)
				if err != nil {
					return err
				}
				fmt.Println(accentStyle.Render(fmt.Sprintf("backup mode entered, %d files to copy", len(files))))
				for _, f := range files {
					fmt.Println(mutedStyle.Render("  " + f))
				}
				return nil
			})
		},
	})

	backupCmd.AddCommand(&cobra.Command{
		Use:   "end",
		Short: "Release one backup-mode hold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(ctx context.Context, repo *repository.Repository) error {
				if err := repo.EndBackup(ctx); err != nil {
					return err
				}
				fmt.Println(okStyle.Render("backup mode released"))
				return nil
			})
		},
	})

	var lastLogNumber int64
	sinceCmd := &cobra.Command{
		Use:   "since",
		Short: "List files changed since a prior backup's log number (incremental backup)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(func(ctx context.Context, repo *repository.Repository) error {
				files, newMark, err := repo.BackupFilesSince(ctx, lastLogNumber)
				if err != nil {
					return err
				}
				fmt.Println(accentStyle.Render(fmt.Sprintf("%d files since log %d; next lastLogNumber=%d", len(files), lastLogNumber, newMark)))
				for _, f := range files {
					fmt.Println(mutedStyle.Render("  " + f))
				}
				return nil
			})
		},
	}
	sinceCmd.Flags().Int64Var(&lastLogNumber, "last-log-number", 0, "log number returned by the previous backup")
	backupCmd.AddCommand(sinceCmd)

	suspendCmd := &cobra.Command{
		Use:   "suspend <duration>",
		Short: "Suspend the checkpointer for the duration of an external backup tool, e.g. 'in 10 minutes'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDuration(args[0])
			if err != nil {
				return err
			}
			return withRepository(func(ctx context.Context, repo *repository.Repository) error {
				repo.Suspend(d)
				fmt.Println(accentStyle.Render(fmt.Sprintf("checkpointer suspended for %s; renew before it elapses if the backup is still running", d)))
				return nil
			})
		},
	}
	backupCmd.AddCommand(suspendCmd)
}
