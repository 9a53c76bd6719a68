package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notenetra/creditscore/internal/domain"
	"github.com/notenetra/creditscore/internal/service"
	"github.com/notenetra/creditscore/internal/synth"
)

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeLedger(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestScoreCommand(t *testing.T) {
	data, err := json.Marshal(synth.Generate(synth.Steady()))
	require.NoError(t, err)
	path := writeLedger(t, "steady.json", data)

	t.Run("full year", func(t *testing.T) {
		stdout, _, err := runCommand(t, "score", "--file", path, "--as-of", "2024-12-31", "--merchant", "m-1")
		require.NoError(t, err)

		var report service.Report
		require.NoError(t, json.Unmarshal([]byte(stdout), &report))
		assert.Equal(t, domain.TierExcellent, report.Result.Tier)
		assert.Equal(t, 159, report.Result.Evidence.Transactions)
		assert.NotNil(t, report.Insights)
	})

	t.Run("window days", func(t *testing.T) {
		stdout, _, err := runCommand(t, "score", "-f", path, "--as-of", "2024-12-31", "--window-days", "28", "--compact")
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(strings.TrimSpace(stdout), "\n")+1)

		var report service.Report
		require.NoError(t, json.Unmarshal([]byte(stdout), &report))
		assert.Equal(t, 12, report.Result.Evidence.Transactions)
	})

	t.Run("rejections go to stderr", func(t *testing.T) {
		csvPath := writeLedger(t, "ledger.csv", []byte("timestamp,amount,direction,channel\n"+
			"2024-06-01,100,credit,upi\n"+
			"2024-06-02,abc,credit,cash\n"))
		stdout, stderr, err := runCommand(t, "score", "--file", csvPath, "--as-of", "2024-06-30")
		require.NoError(t, err)
		assert.Contains(t, stderr, "rejected record #1")

		var report service.Report
		require.NoError(t, json.Unmarshal([]byte(stdout), &report))
		assert.Len(t, report.Rejected, 1)
		assert.Equal(t, 1, report.Result.Evidence.Transactions)
	})

	t.Run("file is required", func(t *testing.T) {
		_, _, err := runCommand(t, "score")
		assert.Error(t, err)
	})

	t.Run("invalid as-of", func(t *testing.T) {
		_, _, err := runCommand(t, "score", "--file", path, "--as-of", "yesterday")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--as-of")
	})

	t.Run("invalid configuration", func(t *testing.T) {
		t.Setenv("CREDITSCORE_SCORING_WEIGHTS_TIMING", "0.9")
		_, _, err := runCommand(t, "score", "--file", path)
		var cerr *domain.ConfigurationError
		assert.ErrorAs(t, err, &cerr)
	})
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "creditscore dev")
	assert.Contains(t, stdout, "commit: none")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	newLogger(domain.LoggingConfig{Level: "warn", Format: "json"}, &buf).Info("hidden")
	assert.Empty(t, buf.String())

	newLogger(domain.LoggingConfig{Level: "debug", Format: "text"}, &buf).Debug("shown", "merchant_id", "m-1")
	assert.Contains(t, buf.String(), "merchant_id=m-1")
	assert.False(t, strings.HasPrefix(buf.String(), "{"))
}
