// Package publish moves recorded benchmark datasets in and out of object
// storage.
//
// Publishing is summary-driven: the files to upload are exactly the trace
// and record files the benchmark's summary lists, plus the summary itself.
// Every local file is verified before the first byte goes out, so a
// half-swept benchmark fails fast instead of publishing a partial dataset.
package publish

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/golang/snappy"

	terrors "github.com/tracesmith/tracesmith/internal/errors"
	"github.com/tracesmith/tracesmith/internal/registry"
	"github.com/tracesmith/tracesmith/internal/storage"
)

// SummarySource yields benchmark summaries. The registry implements it.
type SummarySource interface {
	ReadSummary(benchmark string) (*registry.BenchmarkSummary, error)
	ListBenchmarks(ctx context.Context) ([]*registry.BenchmarkRow, error)
}

// Options configures a Publisher.
type Options struct {
	// Prefix is the object key prefix datasets publish under.
	Prefix string
	// Overwrite replaces objects that already exist; otherwise they are
	// skipped and counted.
	Overwrite bool
	// Compress uploads trace files snappy-framed under a .sz suffix.
	// Record files stay plain; they are small and human-readable.
	Compress bool
	// MultipartMin is the size at which trace uploads switch to multipart.
	MultipartMin int64
}

// Publisher uploads one benchmark's recorded dataset per call.
type Publisher struct {
	src        SummarySource
	store      storage.ObjectStorage
	tracesDir  string
	recordsDir string
	opts       Options
}

// NewPublisher creates a publisher reading local files from tracesDir and
// recordsDir.
func NewPublisher(src SummarySource, store storage.ObjectStorage, tracesDir, recordsDir string, opts Options) *Publisher {
	if opts.MultipartMin <= 0 {
		opts.MultipartMin = 64 << 20
	}
	return &Publisher{
		src:        src,
		store:      store,
		tracesDir:  tracesDir,
		recordsDir: recordsDir,
		opts:       opts,
	}
}

// FileUpload is one file's outcome within a publish run.
type FileUpload struct {
	Source  string
	Object  string
	Size    int64
	Skipped bool
	Err     error
}

// Result reports how one benchmark's publish went.
type Result struct {
	Benchmark string
	Files     []FileUpload
	Uploaded  int
	Skipped   int
	Failed    int
}

type plannedUpload struct {
	local  string
	object string
	trace  bool
}

// Discover returns the benchmarks that have a summary on disk, sorted.
// The publish CLI falls back to this set when invoked without names.
func (p *Publisher) Discover(ctx context.Context) ([]string, error) {
	rows, err := p.src.ListBenchmarks(ctx)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, row := range rows {
		summary, err := p.src.ReadSummary(row.Name)
		if err != nil {
			return nil, err
		}
		if summary != nil {
			names = append(names, row.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Publish uploads every file the benchmark's summary lists, then the
// summary itself. Individual upload failures are collected and the rest of
// the files still go out; the returned error reports the count.
func (p *Publisher) Publish(ctx context.Context, benchmark string) (*Result, error) {
	summary, err := p.src.ReadSummary(benchmark)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, terrors.NewStorageError(terrors.CodeObjectNotFound,
			fmt.Sprintf("no summary recorded for benchmark %q; sweep it first", benchmark), nil)
	}

	plan := p.planUploads(benchmark, summary)
	if err := p.verifyLocal(benchmark, plan); err != nil {
		return nil, err
	}

	result := &Result{Benchmark: benchmark}
	log.Printf("[%s publish] uploading %d file(s) to %s", benchmark, len(plan), p.opts.Prefix)
	for _, pl := range plan {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		upload := p.uploadOne(ctx, benchmark, pl)
		result.Files = append(result.Files, upload)
		switch {
		case upload.Err != nil:
			result.Failed++
			log.Printf("[%s publish] %s failed: %v", benchmark, filepath.Base(pl.local), upload.Err)
		case upload.Skipped:
			result.Skipped++
		default:
			result.Uploaded++
		}
	}

	if result.Failed > 0 {
		return result, terrors.NewStorageError(terrors.CodeUploadFailed,
			fmt.Sprintf("%d of %d uploads failed for benchmark %s", result.Failed, len(plan), benchmark), nil)
	}
	log.Printf("[%s publish] done: %d uploaded, %d skipped", benchmark, result.Uploaded, result.Skipped)
	return result, nil
}

// planUploads lists the benchmark's files in upload order: traces, then
// per-trace records, then the summary.
func (p *Publisher) planUploads(benchmark string, summary *registry.BenchmarkSummary) []plannedUpload {
	plan := make([]plannedUpload, 0, 2*len(summary.Traces)+1)
	for _, tr := range summary.Traces {
		plan = append(plan, plannedUpload{
			local:  filepath.Join(p.tracesDir, tr.TraceFile),
			object: path.Join(p.opts.Prefix, "traces", tr.TraceFile),
			trace:  true,
		})
	}
	for _, tr := range summary.Traces {
		plan = append(plan, plannedUpload{
			local:  filepath.Join(p.recordsDir, tr.RecordFile),
			object: path.Join(p.opts.Prefix, "records", tr.RecordFile),
		})
	}
	summaryFile := registry.SummaryFile(benchmark)
	plan = append(plan, plannedUpload{
		local:  filepath.Join(p.recordsDir, summaryFile),
		object: path.Join(p.opts.Prefix, "records", summaryFile),
	})
	return plan
}

// verifyLocal stats every planned file before any upload starts.
func (p *Publisher) verifyLocal(benchmark string, plan []plannedUpload) error {
	var missing []string
	for _, pl := range plan {
		if _, err := os.Stat(pl.local); err != nil {
			missing = append(missing, pl.local)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return terrors.NewStorageError(terrors.CodeUploadFailed,
		fmt.Sprintf("%d local file(s) referenced by the %s summary are missing", len(missing), benchmark),
		nil).WithDetails(map[string]interface{}{"missing": missing})
}

func (p *Publisher) uploadOne(ctx context.Context, benchmark string, pl plannedUpload) FileUpload {
	upload := FileUpload{Source: pl.local, Object: pl.object}

	local := pl.local
	if pl.trace && p.opts.Compress {
		compressed, err := compressToTemp(local)
		if err != nil {
			upload.Err = err
			return upload
		}
		defer os.Remove(compressed)
		local = compressed
		upload.Object = pl.object + ".sz"
	}

	info, err := os.Stat(local)
	if err != nil {
		upload.Err = terrors.NewStorageError(terrors.CodeUploadFailed, "stat before upload", err)
		return upload
	}
	upload.Size = info.Size()

	if !p.opts.Overwrite {
		exists, err := p.store.Exists(ctx, upload.Object)
		if err != nil {
			upload.Err = terrors.NewStorageError(terrors.CodeUploadFailed, "existence check", err)
			return upload
		}
		if exists {
			upload.Skipped = true
			log.Printf("[%s publish] skip %s: already published", benchmark, upload.Object)
			return upload
		}
	}

	if pl.trace && upload.Size >= p.opts.MultipartMin {
		_, err = p.store.UploadMultipart(ctx, local, upload.Object)
	} else {
		err = p.store.Upload(ctx, local, upload.Object)
	}
	if err != nil {
		upload.Err = terrors.NewStorageError(terrors.CodeUploadFailed, "upload "+upload.Object, err)
		return upload
	}

	log.Printf("[%s publish] %s -> %s (%.2f MB)",
		benchmark, filepath.Base(pl.local), upload.Object, float64(upload.Size)/(1024*1024))
	return upload
}

// compressToTemp writes a snappy-framed copy of src to a temp file and
// returns its path. The caller removes it.
func compressToTemp(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", terrors.NewStorageError(terrors.CodeUploadFailed, "open for compression", err)
	}
	defer in.Close()

	out, err := os.CreateTemp("", "tracesmith-*.sz")
	if err != nil {
		return "", terrors.NewStorageError(terrors.CodeUploadFailed, "create compressed temp", err)
	}

	sw := snappy.NewBufferedWriter(out)
	if _, err := io.Copy(sw, in); err == nil {
		err = sw.Close()
	} else {
		sw.Close()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out.Name())
		return "", terrors.NewStorageError(terrors.CodeUploadFailed, "compress "+src, err)
	}
	return out.Name(), nil
}
