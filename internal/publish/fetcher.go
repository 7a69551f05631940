package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"

	"github.com/golang/snappy"

	terrors "github.com/tracesmith/tracesmith/internal/errors"
	"github.com/tracesmith/tracesmith/internal/registry"
	"github.com/tracesmith/tracesmith/internal/storage"
)

// Fetcher downloads a published benchmark dataset back to local disk,
// recreating the traces/ and records/ layout the sweep produced.
type Fetcher struct {
	store  storage.ObjectStorage
	prefix string
	dl     *storage.BatchDownloader
}

// NewFetcher creates a fetcher pulling from the given prefix with up to
// concurrency parallel downloads.
func NewFetcher(store storage.ObjectStorage, prefix string, concurrency int) *Fetcher {
	return &Fetcher{
		store:  store,
		prefix: prefix,
		dl:     storage.NewBatchDownloader(store, concurrency),
	}
}

// FetchResult reports how one benchmark's fetch went.
type FetchResult struct {
	Benchmark  string
	Dir        string
	Downloaded int
	Skipped    int
	Errors     map[string]error
}

// Fetch downloads one benchmark's published files into destDir. The
// summary comes first, since it names every other file; the records and
// traces then arrive in parallel, records first. Traces published
// compressed are decompressed back to the file name the summary lists.
func (f *Fetcher) Fetch(ctx context.Context, benchmark, destDir string) (*FetchResult, error) {
	summary, err := f.fetchSummary(ctx, benchmark, destDir)
	if err != nil {
		return nil, err
	}

	published, err := f.publishedTraceSet(ctx)
	if err != nil {
		return nil, err
	}

	req := &storage.BatchRequest{}
	var compressed []string // local .sz paths to expand after the batch
	for _, tr := range summary.Traces {
		req.ObjectPaths = append(req.ObjectPaths, path.Join(f.prefix, "records", tr.RecordFile))
		req.LocalPaths = append(req.LocalPaths, filepath.Join(destDir, "records", tr.RecordFile))
		req.Priority = append(req.Priority, 0)
	}
	for _, tr := range summary.Traces {
		object := path.Join(f.prefix, "traces", tr.TraceFile)
		local := filepath.Join(destDir, "traces", tr.TraceFile)
		if _, ok := published[object]; !ok {
			if _, szOK := published[object+".sz"]; szOK {
				object += ".sz"
				local += ".sz"
				compressed = append(compressed, local)
			}
			// Neither form listed: let the download fail and be reported.
		}
		req.ObjectPaths = append(req.ObjectPaths, object)
		req.LocalPaths = append(req.LocalPaths, local)
		req.Priority = append(req.Priority, 1)
	}

	batch, err := f.dl.Download(ctx, req)
	if err != nil {
		return nil, terrors.NewStorageError(terrors.CodeDownloadFailed,
			"batch download for benchmark "+benchmark, err)
	}

	result := &FetchResult{
		Benchmark:  benchmark,
		Dir:        destDir,
		Downloaded: batch.Downloads + 1, // + the summary
		Skipped:    batch.Skipped,
		Errors:     batch.Errors,
	}

	for _, local := range compressed {
		if !fileExists(local) {
			continue // its download failed and is already reported
		}
		if err := expandSnappy(local); err != nil {
			result.Errors[local] = err
		}
	}

	if len(result.Errors) > 0 {
		return result, terrors.NewStorageError(terrors.CodeDownloadFailed,
			fmt.Sprintf("%d file(s) failed to fetch for benchmark %s", len(result.Errors), benchmark), nil)
	}
	log.Printf("[%s fetch] done: %d downloaded, %d already present, in %s",
		benchmark, result.Downloaded, result.Skipped, destDir)
	return result, nil
}

// fetchSummary downloads and parses the benchmark's summary document.
func (f *Fetcher) fetchSummary(ctx context.Context, benchmark, destDir string) (*registry.BenchmarkSummary, error) {
	summaryFile := registry.SummaryFile(benchmark)
	object := path.Join(f.prefix, "records", summaryFile)
	local := filepath.Join(destDir, "records", summaryFile)

	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return nil, terrors.NewStorageError(terrors.CodeDownloadFailed, "create destination", err)
	}
	if err := f.store.Download(ctx, object, local); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, terrors.NewStorageError(terrors.CodeObjectNotFound,
				fmt.Sprintf("benchmark %q is not published under %s", benchmark, f.prefix), err)
		}
		return nil, terrors.NewStorageError(terrors.CodeDownloadFailed, "download summary "+object, err)
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return nil, terrors.NewStorageError(terrors.CodeDownloadFailed, "read summary", err)
	}
	var summary registry.BenchmarkSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, terrors.NewStorageError(terrors.CodeDownloadFailed,
			"parse summary "+summaryFile, err)
	}
	return &summary, nil
}

// publishedTraceSet lists the trace objects currently published, keyed by
// full object path. One listing replaces a per-file existence probe.
func (f *Fetcher) publishedTraceSet(ctx context.Context) (map[string]struct{}, error) {
	objects, err := f.store.ListObjects(ctx, path.Join(f.prefix, "traces"))
	if err != nil {
		return nil, terrors.NewStorageError(terrors.CodeDownloadFailed, "list published traces", err)
	}
	set := make(map[string]struct{}, len(objects))
	for _, object := range objects {
		set[object] = struct{}{}
	}
	return set, nil
}

// expandSnappy replaces local (a .sz file) with its decompressed content
// under the suffix-less name.
func expandSnappy(local string) error {
	in, err := os.Open(local)
	if err != nil {
		return terrors.NewStorageError(terrors.CodeDownloadFailed, "open compressed trace", err)
	}
	defer in.Close()

	target := local[:len(local)-len(".sz")]
	out, err := os.Create(target)
	if err != nil {
		return terrors.NewStorageError(terrors.CodeDownloadFailed, "create decompressed trace", err)
	}

	_, err = io.Copy(out, snappy.NewReader(in))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return terrors.NewStorageError(terrors.CodeDownloadFailed, "decompress "+local, err)
	}
	return os.Remove(local)
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
