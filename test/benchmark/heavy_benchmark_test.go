// Heavy benchmarks stress the publish path with realistic trace sizes:
// multi-megabyte files moving through the publisher, the batch
// downloader, and the snappy framing used for compressed uploads.
//
// Run with: go test -bench=Heavy -benchtime=5s -timeout=30m ./test/benchmark/...
// Run specific: go test -bench=HeavyPublish -benchtime=3x ./test/benchmark/...
package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"

	"github.com/tracesmith/tracesmith/internal/publish"
	"github.com/tracesmith/tracesmith/internal/registry"
	"github.com/tracesmith/tracesmith/internal/storage"
	"github.com/tracesmith/tracesmith/pkg/traceid"
)

const (
	heavyTraceCount = 8
	heavyTraceSize  = 8 << 20
)

// setupHeavyDataset records heavyTraceCount traces of heavyTraceSize bytes
// and writes the benchmark summary, returning the registry and its layout.
func setupHeavyDataset(b *testing.B) (*registry.Registry, string, string) {
	b.Helper()

	dir, err := os.MkdirTemp("", "tracesmith-bench-heavy-*")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { os.RemoveAll(dir) })

	tracesDir := filepath.Join(dir, "traces")
	recordsDir := filepath.Join(dir, "records")
	workDir := filepath.Join(dir, "work")
	for _, d := range []string{tracesDir, recordsDir, workDir} {
		os.MkdirAll(d, 0755)
	}

	reg, err := registry.Open(registry.Options{
		CatalogPath: filepath.Join(dir, "registry.db"),
		TracesDir:   tracesDir,
		RecordsDir:  recordsDir,
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { reg.Close() })

	ctx := context.Background()
	if _, err := reg.BenchmarkIndex(ctx, "fir"); err != nil {
		b.Fatal(err)
	}
	for i := 0; i < heavyTraceCount; i++ {
		id, err := traceid.New(1, traceid.CategoryNormal, i)
		if err != nil {
			b.Fatal(err)
		}
		src := writeTraceFile(b, workDir, fmt.Sprintf("trace_%d.sqlite3", i), heavyTraceSize)
		_, err = reg.Record(ctx, registry.RecordInput{
			ID:         id,
			Benchmark:  "fir",
			Command:    fmt.Sprintf("fir -timing -length 4096 -width %d", i),
			SourcePath: src,
			SizeBytes:  heavyTraceSize,
		})
		if err != nil {
			b.Fatal(err)
		}
	}
	if _, err := reg.WriteSummary(ctx, "fir"); err != nil {
		b.Fatal(err)
	}
	return reg, tracesDir, recordsDir
}

// BenchmarkHeavyPublish measures publishing a 64 MB benchmark dataset,
// plain and compressed. Overwrite forces every iteration to upload.
func BenchmarkHeavyPublish(b *testing.B) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "compressed"
		}
		b.Run(name, func(b *testing.B) {
			reg, tracesDir, recordsDir := setupHeavyDataset(b)
			store, cleanup := getBenchmarkStorage(b, "heavy-publish-"+name)
			defer cleanup()

			pub := publish.NewPublisher(reg, store, tracesDir, recordsDir, publish.Options{
				Prefix:    "datasets",
				Overwrite: true,
				Compress:  compress,
			})
			ctx := context.Background()

			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				result, err := pub.Publish(ctx, "fir")
				if err != nil {
					b.Fatal(err)
				}
				if result.Uploaded == 0 {
					b.Fatal("nothing uploaded")
				}
			}

			sourceMB := float64(heavyTraceCount*heavyTraceSize) / (1 << 20)
			b.ReportMetric(sourceMB*float64(b.N)/b.Elapsed().Seconds(), "MB/sec")
		})
	}
}

// BenchmarkHeavyBatchDownload measures parallel dataset downloads at
// several concurrency levels.
func BenchmarkHeavyBatchDownload(b *testing.B) {
	const (
		objectCount = 32
		objectSize  = 2 << 20
	)

	store, cleanup := getBenchmarkStorage(b, "heavy-batch")
	defer cleanup()

	srcDir, err := os.MkdirTemp("", "tracesmith-bench-batch-src-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(srcDir)

	ctx := context.Background()
	objects := make([]string, objectCount)
	for i := range objects {
		objects[i] = fmt.Sprintf("datasets/traces/D01100%02d.sqlite3", i)
		src := writeTraceFile(b, srcDir, fmt.Sprintf("src_%d.sqlite3", i), objectSize)
		if err := store.Upload(ctx, src, objects[i]); err != nil {
			b.Fatal(err)
		}
	}

	destRoot, err := os.MkdirTemp("", "tracesmith-bench-batch-dst-*")
	if err != nil {
		b.Fatal(err)
	}
	defer os.RemoveAll(destRoot)

	for _, concurrency := range []int{1, 4, 8} {
		b.Run(fmt.Sprintf("concurrency-%d", concurrency), func(b *testing.B) {
			dl := storage.NewBatchDownloader(store, concurrency)

			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				dest := filepath.Join(destRoot, fmt.Sprintf("c%d_i%d", concurrency, i))
				locals := make([]string, objectCount)
				for j := range locals {
					locals[j] = filepath.Join(dest, filepath.Base(objects[j]))
				}
				result, err := dl.Download(ctx, &storage.BatchRequest{
					ObjectPaths: objects,
					LocalPaths:  locals,
				})
				if err != nil {
					b.Fatal(err)
				}
				if len(result.Errors) != 0 {
					b.Fatalf("download errors: %v", result.Errors)
				}
			}

			totalMB := float64(objectCount*objectSize) / (1 << 20)
			b.ReportMetric(totalMB*float64(b.N)/b.Elapsed().Seconds(), "MB/sec")
		})
	}
}

// BenchmarkHeavySnappyFraming measures the framed snappy encoding used
// for compressed trace uploads, both directions.
func BenchmarkHeavySnappyFraming(b *testing.B) {
	const dataSize = 16 << 20

	page := make([]byte, 4096)
	for i := range page {
		page[i] = byte(i % 251)
	}
	data := make([]byte, 0, dataSize)
	for seq := uint32(0); len(data) < dataSize; seq++ {
		page[0] = byte(seq)
		page[1] = byte(seq >> 8)
		data = append(data, page...)
	}

	b.Run("compress", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			w := snappy.NewBufferedWriter(io.Discard)
			if _, err := w.Write(data); err != nil {
				b.Fatal(err)
			}
			if err := w.Close(); err != nil {
				b.Fatal(err)
			}
		}
		b.ReportMetric(float64(len(data))*float64(b.N)/(1<<20)/b.Elapsed().Seconds(), "MB/sec")
	})

	b.Run("decompress", func(b *testing.B) {
		var compressed bytes.Buffer
		w := snappy.NewBufferedWriter(&compressed)
		if _, err := w.Write(data); err != nil {
			b.Fatal(err)
		}
		if err := w.Close(); err != nil {
			b.Fatal(err)
		}

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			r := snappy.NewReader(bytes.NewReader(compressed.Bytes()))
			if _, err := io.Copy(io.Discard, r); err != nil {
				b.Fatal(err)
			}
		}
		b.ReportMetric(float64(len(data))*float64(b.N)/(1<<20)/b.Elapsed().Seconds(), "MB/sec")
	})
}
