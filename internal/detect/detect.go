// Package detect finds the trace artifacts a benchmark run leaves behind.
//
// The simulator names its trace files itself, so runs are bracketed with a
// directory snapshot: files matching the trace pattern that exist after a
// run but not before it are that run's artifacts.
package detect

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Artifact is one trace file produced by a benchmark run.
type Artifact struct {
	// Name is the file's base name
	Name string
	// Path is the file's full path in the working directory
	Path string
	// SizeBytes is the file size at detection time
	SizeBytes int64
	// ModTime is the file modification time at detection time
	ModTime time.Time
}

// Snapshot is the set of artifact names present at one point in time.
type Snapshot map[string]struct{}

// Detector watches one directory for files matching a glob pattern.
type Detector struct {
	dir     string
	pattern string
}

// New creates a detector for pattern-matched files in dir.
func New(dir, pattern string) *Detector {
	return &Detector{dir: dir, pattern: pattern}
}

// Snapshot records which matching files currently exist.
func (d *Detector) Snapshot() (Snapshot, error) {
	matches, err := d.glob()
	if err != nil {
		return nil, err
	}

	snap := make(Snapshot, len(matches))
	for _, path := range matches {
		snap[filepath.Base(path)] = struct{}{}
	}
	return snap, nil
}

// NewArtifacts returns matching files that have appeared since the
// snapshot, sorted by name so multi-file runs register in a stable order.
func (d *Detector) NewArtifacts(before Snapshot) ([]Artifact, error) {
	matches, err := d.glob()
	if err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for _, path := range matches {
		name := filepath.Base(path)
		if _, existed := before[name]; existed {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			// Raced with deletion; treat as not produced.
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat artifact %s: %w", path, err)
		}

		artifacts = append(artifacts, Artifact{
			Name:      name,
			Path:      path,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name < artifacts[j].Name
	})
	return artifacts, nil
}

// Clean removes every matching file from the directory and returns how
// many were removed. Run before a sweep so leftovers from interrupted
// sessions are not mistaken for fresh artifacts.
func (d *Detector) Clean() (int, error) {
	matches, err := d.glob()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("failed to remove leftover %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}

func (d *Detector) glob() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.dir, d.pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid trace pattern %q: %w", d.pattern, err)
	}
	return matches, nil
}

// Primary picks the artifact whose size decides a run's outcome: the
// largest one, with name order breaking ties. Returns false for an empty
// slice.
func Primary(artifacts []Artifact) (Artifact, bool) {
	if len(artifacts) == 0 {
		return Artifact{}, false
	}

	primary := artifacts[0]
	for _, a := range artifacts[1:] {
		if a.SizeBytes > primary.SizeBytes {
			primary = a
		}
	}
	return primary, true
}
