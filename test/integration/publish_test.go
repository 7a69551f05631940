package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/tracesmith/tracesmith/internal/config"
	"github.com/tracesmith/tracesmith/internal/publish"
	"github.com/tracesmith/tracesmith/internal/storage"
)

// storageForTest returns the object store publish tests run against.
// TRACESMITH_STORAGE_TYPE=s3, from the environment or a repo-root .env,
// switches to a real bucket with a unique per-run prefix; anything else
// uses a local directory store.
func storageForTest(t *testing.T) (storage.ObjectStorage, string) {
	t.Helper()
	_ = godotenv.Load("../../.env")

	if os.Getenv("TRACESMITH_STORAGE_TYPE") == "s3" {
		if v := os.Getenv("TRACESMITH_AWS_ACCESS_KEY_ID"); v != "" {
			os.Setenv("AWS_ACCESS_KEY_ID", v)
		}
		if v := os.Getenv("TRACESMITH_AWS_SECRET_ACCESS_KEY"); v != "" {
			os.Setenv("AWS_SECRET_ACCESS_KEY", v)
		}
		bucket := os.Getenv("TRACESMITH_S3_BUCKET")
		if bucket == "" {
			t.Fatal("TRACESMITH_S3_BUCKET is required when TRACESMITH_STORAGE_TYPE=s3")
		}

		cfg := storage.DefaultS3Config()
		if region := os.Getenv("TRACESMITH_S3_REGION"); region != "" {
			cfg.Region = region
		}
		if endpoint := os.Getenv("TRACESMITH_S3_ENDPOINT"); endpoint != "" {
			cfg.Endpoint = endpoint
			cfg.UsePathStyle = true
		}

		store, err := storage.NewS3Storage(context.Background(), bucket, cfg)
		if err != nil {
			t.Fatalf("NewS3Storage: %v", err)
		}
		prefix := fmt.Sprintf("integration/%d", time.Now().UnixNano())
		t.Logf("publishing to s3 bucket %s under %s", bucket, prefix)
		t.Cleanup(func() { cleanupObjects(store, prefix) })
		return store, prefix
	}

	store, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "published"))
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	return store, "datasets"
}

// cleanupObjects best-effort removes everything under prefix after an S3 run.
func cleanupObjects(store storage.ObjectStorage, prefix string) {
	ctx := context.Background()
	objects, err := store.ListObjects(ctx, prefix)
	if err != nil {
		return
	}
	for _, object := range objects {
		_ = store.Delete(ctx, object)
	}
}

// sweepForPublish runs the stub benchmark sweep so the registry has a
// complete benchmark to publish: base, two widths, one special.
func sweepForPublish(t *testing.T) *pipelineEnv {
	t.Helper()
	env := newPipelineEnv(t,
		[]config.AxisConfig{{Param: "-width", Values: []int64{1, 2}}},
		[]string{"-fast"})
	result, err := env.sweeper.SweepBatch(context.Background(), []string{"fir"}, false)
	if err != nil || !result.OK() {
		t.Fatalf("sweep: err=%v failed=%v", err, result)
	}
	return env
}

func TestPublishPipeline_SweepPublishFetch(t *testing.T) {
	env := sweepForPublish(t)
	store, prefix := storageForTest(t)
	ctx := context.Background()

	pub := publish.NewPublisher(env.reg, store, env.cfg.TracesDir(), env.cfg.RecordsDir(),
		publish.Options{Prefix: prefix})
	pubResult, err := pub.Publish(ctx, "fir")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// 4 traces + 4 records + the summary.
	if pubResult.Uploaded != 9 {
		t.Fatalf("uploaded: got %d, want 9", pubResult.Uploaded)
	}

	dest := t.TempDir()
	fetchResult, err := publish.NewFetcher(store, prefix, 4).Fetch(ctx, "fir", dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fetchResult.Downloaded != 9 {
		t.Errorf("downloaded: got %d, want 9", fetchResult.Downloaded)
	}

	// Fetched traces are byte-identical to the swept dataset.
	for _, name := range []string{"D0100000.sqlite3", "D0110000.sqlite3", "D0110001.sqlite3", "D0120000.sqlite3"} {
		want, err := os.ReadFile(filepath.Join(env.cfg.TracesDir(), name))
		if err != nil {
			t.Fatalf("read swept trace %s: %v", name, err)
		}
		got, err := os.ReadFile(filepath.Join(dest, "traces", name))
		if err != nil {
			t.Fatalf("read fetched trace %s: %v", name, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("trace %s differs after publish/fetch roundtrip", name)
		}
	}
}

func TestPublishPipeline_CompressedRoundtrip(t *testing.T) {
	env := sweepForPublish(t)
	store, prefix := storageForTest(t)
	ctx := context.Background()

	pub := publish.NewPublisher(env.reg, store, env.cfg.TracesDir(), env.cfg.RecordsDir(),
		publish.Options{Prefix: prefix, Compress: true})
	if _, err := pub.Publish(ctx, "fir"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	dest := t.TempDir()
	result, err := publish.NewFetcher(store, prefix, 4).Fetch(ctx, "fir", dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("fetch errors: %v", result.Errors)
	}

	// Fetch transparently decompresses: same bytes, no .sz remnants.
	want, _ := os.ReadFile(filepath.Join(env.cfg.TracesDir(), "D0100000.sqlite3"))
	got, err := os.ReadFile(filepath.Join(dest, "traces", "D0100000.sqlite3"))
	if err != nil {
		t.Fatalf("read fetched trace: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("compressed roundtrip changed trace bytes")
	}
	leftovers, _ := filepath.Glob(filepath.Join(dest, "traces", "*.sz"))
	if len(leftovers) != 0 {
		t.Errorf("compressed files left behind: %v", leftovers)
	}
}
