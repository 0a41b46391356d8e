// Command typedkv is a scriptable administrative CLI over a Repository: it
// opens an environment from a Configuration Contract file (internal/config)
// and drives the capability surfaces that have no reason to require a
// caller's own Go program — checkpoint control, hot backup, compaction
// stats, and status. It never touches record data itself
// (that needs a caller's own registered Go types); this is the
// administrative edge spec §6 describes as "out of scope, a library," kept
// non-interactive and flag-driven so it composes in scripts the way the
// teacher's own cmd/bd does.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/typedkv/typedkv/internal/config"
	_ "github.com/typedkv/typedkv/internal/kvengine/memkv"
	_ "github.com/typedkv/typedkv/internal/kvengine/sqlkv"
	"github.com/typedkv/typedkv/internal/repository"
)

var configPath string

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"})
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"})
)

var rootCmd = &cobra.Command{
	Use:           "typedkv",
	Short:         "Administer a typedkv repository",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "typedkv.toml", "path to the Configuration Contract TOML file")
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

// withRepository loads configPath, builds a Repository, runs fn, and always
// shuts the repository down cleanly afterward — every subcommand below
// shares this open/defer-close shape rather than duplicating Build/Shutdown
// bookkeeping.
func withRepository(fn func(ctx context.Context, repo *repository.Repository) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	repo, err := repository.Build(ctx, opts)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := repo.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintln(os.Stderr, failStyle.Render("shutdown: "+err.Error()))
		}
	}()
	return fn(ctx, repo)
}
