package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDurationGoLiteral(t *testing.T) {
	d, err := parseDuration("10m30s")
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute+30*time.Second, d)
}

func TestParseDurationEnglishPhrase(t *testing.T) {
	d, err := parseDuration("in 10 minutes")
	require.NoError(t, err)
	require.InDelta(t, 10*time.Minute, d, float64(5*time.Second))
}

func TestParseDurationRejectsPast(t *testing.T) {
	_, err := parseDuration("10 minutes ago")
	require.Error(t, err)
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	_, err := parseDuration("not a duration at all, definitely not")
	require.Error(t, err)
}
