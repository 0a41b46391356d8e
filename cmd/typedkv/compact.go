package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/typedkv/typedkv/internal/repository"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Report CompactionCapability statistics (spec §6)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(func(ctx context.Context, repo *repository.Repository) error {
			stats, err := repo.Compact(ctx)
			if err != nil {
				return err
			}
			fmt.Println(renderCompactionTable(stats.PagesExamined, stats.PagesFree, stats.PagesTruncated, int64(stats.Levels), stats.DeadlockCount))
			return nil
		})
	},
}

// renderCompactionTable draws a two-column key/value table with lipgloss
// when stdout is a real terminal, falling back to plain "key: value" lines
// otherwise (piped to a file, redirected in CI) — the same
// isatty-gated styling fallback the teacher's colored CLI output uses,
// checked here via golang.org/x/term instead of go-isatty since lipgloss's
// own color profile detection already depends on muesli/termenv, which x/
// term composes with directly.
func renderCompactionTable(pagesExamined, pagesFree, pagesTruncated, levels, deadlocks int64) string {
	rows := [][2]string{
		{"pages examined", fmt.Sprintf("%d", pagesExamined)},
		{"pages free", fmt.Sprintf("%d", pagesFree)},
		{"pages truncated", fmt.Sprintf("%d", pagesTruncated)},
		{"levels", fmt.Sprintf("%d", levels)},
		{"deadlocks broken", fmt.Sprintf("%d", deadlocks)},
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) || termenv.NewOutput(os.Stdout).ColorProfile() == termenv.Ascii {
		var out string
		for _, r := range rows {
			out += fmt.Sprintf("%s: %s\n", r[0], r[1])
		}
		return out
	}

	keyStyle := lipgloss.NewStyle().Bold(true).Width(18)
	valStyle := lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"})
	var out string
	for _, r := range rows {
		out += keyStyle.Render(r[0]) + " " + valStyle.Render(r[1]) + "\n"
	}
	return lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Render(out[:len(out)-1])
}
