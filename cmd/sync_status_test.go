//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/tcc-deals/dealsync/internal/registry"
	"github.com/tcc-deals/dealsync/internal/syncer"
)

func TestFormatProgress(t *testing.T) {
	var buf bytes.Buffer
	formatProgress(&buf, &registry.Progress{
		Total: 31000, Pending: 12000, Processing: 50, Completed: 17000,
		NoData: 1500, Failed: 450, CompletionPercentage: 59, TotalAPICallsMade: 19420,
	})

	output := buf.String()
	assert.Contains(t, output, "PENDING")
	assert.Contains(t, output, "31000")
	assert.Contains(t, output, "59%")
	assert.Contains(t, output, "19420")
}

func TestFormatRuns_SingleRun(t *testing.T) {
	started := time.Date(2025, 6, 28, 10, 30, 0, 0, time.UTC)
	completed := started.Add(3 * time.Minute)

	runs := []syncer.RunEntry{
		{
			ID:        uuid.MustParse("6b1f3a2e-0000-0000-0000-000000000000"),
			Status:    "complete",
			StartedAt: started, CompletedAt: &completed,
			Processed: 50, Succeeded: 47, NoData: 2, Failed: 1, APICallsUsed: 48,
		},
	}

	var buf bytes.Buffer
	formatRuns(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "6b1f3a2e")
	assert.NotContains(t, output, "6b1f3a2e-0000") // run ids are shortened
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "2025-06-28 10:30")
	assert.Contains(t, output, "3m0s")
}

func TestFormatRuns_RunningHasNoDuration(t *testing.T) {
	runs := []syncer.RunEntry{
		{ID: uuid.New(), Status: "running", StartedAt: time.Now()},
	}

	var buf bytes.Buffer
	formatRuns(&buf, runs)
	assert.Contains(t, buf.String(), "-")
}

func TestFormatRuns_LongErrorTruncated(t *testing.T) {
	longErr := "claim batch: connection to server at localhost port 5432 failed because nobody was listening on that address at all"
	runs := []syncer.RunEntry{
		{ID: uuid.New(), Status: "failed", StartedAt: time.Now(), Error: longErr},
	}

	var buf bytes.Buffer
	formatRuns(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, longErr)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly10!", truncate("exactly10!", 10))
	assert.Equal(t, "toolon...", truncate("toolongbyone", 9))
}
