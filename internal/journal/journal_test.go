package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func entry(benchmark string, outcome Outcome, traceID string) *Entry {
	return &Entry{
		Timestamp: 1700000000,
		Benchmark: benchmark,
		Category:  "normal",
		Outcome:   outcome,
		Command:   "fir -timing -trace-vis -length 4096",
		TraceID:   traceID,
		SizeBytes: 1024,
	}
}

func TestJournal_AppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, DefaultMaxSegmentSize)
	assert.NoError(t, err)
	defer j.Close()

	seq1, err := j.Append(entry("fir", OutcomeRecorded, "D0110000"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), seq1)

	seq2, err := j.Append(entry("fir", OutcomeRunFailed, ""))
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), seq2)

	seq3, err := j.Append(entry("fir", OutcomeNoArtifact, ""))
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), seq3)

	entries, err := ReadAll(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, OutcomeRecorded, entries[0].Outcome)
	assert.Equal(t, "D0110000", entries[0].TraceID)
	assert.Equal(t, OutcomeRunFailed, entries[1].Outcome)
	assert.Equal(t, uint64(3), entries[2].Seq)
}

func TestJournal_ReopenResumesSequence(t *testing.T) {
	dir := t.TempDir()

	j, err := New(dir, DefaultMaxSegmentSize)
	assert.NoError(t, err)
	_, err = j.Append(entry("fir", OutcomeProbeDiscarded, ""))
	assert.NoError(t, err)
	_, err = j.Append(entry("fir", OutcomeProbeAccepted, "D0100000"))
	assert.NoError(t, err)
	assert.NoError(t, j.Close())

	j2, err := New(dir, DefaultMaxSegmentSize)
	assert.NoError(t, err)
	defer j2.Close()
	assert.Equal(t, uint64(2), j2.CurrentSeq())

	seq, err := j2.Append(entry("fir", OutcomeRecorded, "D0110000"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	entries, err := ReadAll(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestJournal_SegmentRotation(t *testing.T) {
	dir := t.TempDir()

	// Tiny threshold so every entry rotates.
	j, err := New(dir, 64)
	assert.NoError(t, err)
	defer j.Close()

	for i := 0; i < 5; i++ {
		_, err := j.Append(entry("fir", OutcomeRecorded, "D0110000"))
		assert.NoError(t, err)
	}

	files, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Greater(t, len(files), 1, "rotation should have produced multiple segments")

	entries, err := ReadAll(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestJournal_TornTailTolerated(t *testing.T) {
	dir := t.TempDir()

	j, err := New(dir, DefaultMaxSegmentSize)
	assert.NoError(t, err)
	_, err = j.Append(entry("fir", OutcomeRecorded, "D0110000"))
	assert.NoError(t, err)
	_, err = j.Append(entry("fir", OutcomeRecorded, "D0110001"))
	assert.NoError(t, err)
	assert.NoError(t, j.Close())

	// Simulate a torn write: a frame header with no payload behind it.
	segment := filepath.Join(dir, "journal_0000000000000000.log")
	f, err := os.OpenFile(segment, os.O_APPEND|os.O_WRONLY, 0644)
	assert.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0x00, 0x00, 0x00, 0x12, 0x34})
	assert.NoError(t, err)
	assert.NoError(t, f.Close())

	entries, err := ReadAll(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)

	// Reopening drops the torn tail and resumes after the last intact entry.
	j2, err := New(dir, DefaultMaxSegmentSize)
	assert.NoError(t, err)
	defer j2.Close()
	assert.Equal(t, uint64(2), j2.CurrentSeq())

	_, err = j2.Append(entry("fir", OutcomeRecorded, "D0110002"))
	assert.NoError(t, err)

	entries, err = ReadAll(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, uint64(3), entries[2].Seq)
}

func TestReadAll_MissingDirectory(t *testing.T) {
	entries, err := ReadAll(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.Empty(t, entries)
}
