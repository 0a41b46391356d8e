package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/typedkv/typedkv/internal/repository"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Open the repository, confirm the engine is reachable, and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(func(ctx context.Context, repo *repository.Repository) error {
			fmt.Println(okStyle.Render(fmt.Sprintf("repository opened from %s", configPath)))
			return nil
		})
	},
}
