// Package journal provides an append-only journal of run outcomes.
//
// Skipped runs never reach the trace registry, so the journal is the only
// complete account of a sweep session: every probe, run, skip, and recorded
// trace appends one entry. Entries survive interrupted sessions and are
// framed with a checksum so a torn tail write cannot corrupt earlier ones.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultMaxSegmentSize is the segment rotation threshold.
const DefaultMaxSegmentSize = 4 * 1024 * 1024

// Outcome classifies what happened to one run.
type Outcome string

const (
	// OutcomeProbeAccepted is a size-search probe that crossed the threshold.
	OutcomeProbeAccepted Outcome = "probe_accepted"
	// OutcomeProbeDiscarded is a size-search probe below the threshold.
	OutcomeProbeDiscarded Outcome = "probe_discarded"
	// OutcomeRecorded is a run whose traces entered the registry.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeRunFailed is a run skipped for a non-zero exit.
	OutcomeRunFailed Outcome = "run_failed"
	// OutcomeNoArtifact is a run skipped because no trace appeared.
	OutcomeNoArtifact Outcome = "no_artifact"
)

// Entry is one journaled run outcome.
type Entry struct {
	Seq       uint64  `json:"seq"`
	Timestamp int64   `json:"timestamp"`
	Benchmark string  `json:"benchmark"`
	Category  string  `json:"category"`
	Outcome   Outcome `json:"outcome"`
	Command   string  `json:"command"`
	TraceID   string  `json:"trace_id,omitempty"`
	ExitCode  int     `json:"exit_code"`
	SizeBytes int64   `json:"size_bytes"`
	Detail    string  `json:"detail,omitempty"`
}

// Journal appends run outcomes to size-rotated segment files.
type Journal struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	offset     int64
	maxSegSize int64
	currentSeq uint64
	mu         sync.Mutex
}

// New opens the journal in dir, creating it if needed. An existing journal
// is continued: the sequence counter resumes after the last readable entry.
func New(dir string, maxSegSize int64) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{
		dir:        dir,
		maxSegSize: maxSegSize,
	}

	if err := j.findLastSegment(); err != nil {
		return nil, err
	}
	if err := j.openSegment(); err != nil {
		return nil, err
	}

	return j, nil
}

// findLastSegment locates the highest existing segment and resumes its
// offset and sequence counter.
func (j *Journal) findLastSegment() error {
	files, err := os.ReadDir(j.dir)
	if err != nil {
		return fmt.Errorf("failed to read journal directory: %w", err)
	}

	var lastSegmentID uint64
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		var segmentID uint64
		if parseSegmentName(file.Name(), &segmentID) && segmentID >= lastSegmentID {
			lastSegmentID = segmentID
		}
	}
	j.segmentID = lastSegmentID

	segmentPath := j.segmentPath(lastSegmentID)
	stat, err := os.Stat(segmentPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat segment: %w", err)
	}

	entries, validOffset, err := readSegment(segmentPath)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		j.currentSeq = entries[len(entries)-1].Seq
	}

	// Drop a torn tail so new entries append after the last intact frame.
	if stat.Size() > validOffset {
		if err := os.Truncate(segmentPath, validOffset); err != nil {
			return fmt.Errorf("failed to truncate torn segment: %w", err)
		}
	}
	return nil
}

// Append journals one entry, assigning its sequence number.
func (j *Journal) Append(entry *Entry) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.currentSeq++
	entry.Seq = j.currentSeq
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize journal entry: %w", err)
	}

	// Frame: [length:4][crc32:4][payload:length]
	if err := j.writeFrame(payload); err != nil {
		return 0, err
	}
	return j.currentSeq, nil
}

func (j *Journal) writeFrame(payload []byte) error {
	if err := binary.Write(j.segment, binary.LittleEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("failed to write length: %w", err)
	}
	if err := binary.Write(j.segment, binary.LittleEndian, crc32.ChecksumIEEE(payload)); err != nil {
		return fmt.Errorf("failed to write CRC: %w", err)
	}
	if _, err := j.segment.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	if err := j.segment.Sync(); err != nil {
		return fmt.Errorf("failed to fsync: %w", err)
	}

	j.offset += int64(8 + len(payload))
	if j.offset >= j.maxSegSize {
		return j.rotateSegment()
	}
	return nil
}

func (j *Journal) rotateSegment() error {
	if j.segment != nil {
		if err := j.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
	}
	j.segmentID++
	return j.openSegment()
}

func (j *Journal) openSegment() error {
	file, err := os.OpenFile(j.segmentPath(j.segmentID), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open segment file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to seek segment: %w", err)
	}

	j.segment = file
	j.offset = offset
	return nil
}

// CurrentSeq returns the last assigned sequence number.
func (j *Journal) CurrentSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.currentSeq
}

// Close fsyncs and closes the current segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.segment != nil {
		if err := j.segment.Sync(); err != nil {
			return fmt.Errorf("failed to fsync on close: %w", err)
		}
		if err := j.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
		j.segment = nil
	}
	return nil
}

func (j *Journal) segmentPath(segmentID uint64) string {
	return filepath.Join(j.dir, fmt.Sprintf("journal_%016x.log", segmentID))
}

func parseSegmentName(name string, segmentID *uint64) bool {
	if len(name) != len("journal_0000000000000000.log") || name[:8] != "journal_" {
		return false
	}
	_, err := fmt.Sscanf(name[8:24], "%016x", segmentID)
	return err == nil
}

// ReadAll returns every readable entry across all segments, in order.
// A torn or corrupt tail ends the read without error: everything before
// it is returned.
func ReadAll(dir string) ([]*Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var segments []string
	for _, file := range files {
		var segmentID uint64
		if !file.IsDir() && parseSegmentName(file.Name(), &segmentID) {
			segments = append(segments, filepath.Join(dir, file.Name()))
		}
	}
	sort.Strings(segments)

	var entries []*Entry
	for _, seg := range segments {
		segEntries, _, err := readSegment(seg)
		if err != nil {
			return nil, err
		}
		entries = append(entries, segEntries...)
	}
	return entries, nil
}

// readSegment reads one segment until EOF or the first unreadable frame,
// also reporting the byte offset the last intact frame ends at.
func readSegment(path string) ([]*Entry, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open segment: %w", err)
	}
	defer file.Close()

	var entries []*Entry
	var validOffset int64
	for {
		var length uint32
		if err := binary.Read(file, binary.LittleEndian, &length); err != nil {
			break
		}
		var crc uint32
		if err := binary.Read(file, binary.LittleEndian, &crc); err != nil {
			break
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			break
		}
		if crc32.ChecksumIEEE(payload) != crc {
			break
		}

		var entry Entry
		if err := json.Unmarshal(payload, &entry); err != nil {
			break
		}
		entries = append(entries, &entry)
		validOffset += int64(8 + len(payload))
	}
	return entries, validOffset, nil
}
