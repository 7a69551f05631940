package benchmark

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/tracesmith/tracesmith/internal/storage"
)

// PrefixedStorage wraps an ObjectStorage and prepends a prefix to all object
// paths, so benchmark runs against a shared bucket stay isolated.
type PrefixedStorage struct {
	inner  storage.ObjectStorage
	prefix string
}

func (s *PrefixedStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	return s.inner.Upload(ctx, localPath, s.prefix+"/"+objectPath)
}

func (s *PrefixedStorage) UploadMultipart(ctx context.Context, localPath, objectPath string) (string, error) {
	return s.inner.UploadMultipart(ctx, localPath, s.prefix+"/"+objectPath)
}

func (s *PrefixedStorage) Download(ctx context.Context, objectPath, localPath string) error {
	return s.inner.Download(ctx, s.prefix+"/"+objectPath, localPath)
}

func (s *PrefixedStorage) Delete(ctx context.Context, objectPath string) error {
	return s.inner.Delete(ctx, s.prefix+"/"+objectPath)
}

func (s *PrefixedStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	return s.inner.Exists(ctx, s.prefix+"/"+objectPath)
}

func (s *PrefixedStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	// Prepend the run prefix to the query and strip it from the results so
	// callers see the same keys they wrote.
	fullPrefix := s.prefix + "/" + prefix
	objects, err := s.inner.ListObjects(ctx, fullPrefix)
	if err != nil {
		return nil, err
	}

	stripped := make([]string, len(objects))
	for i, obj := range objects {
		if len(obj) > len(s.prefix)+1 {
			stripped[i] = obj[len(s.prefix)+1:]
		} else {
			stripped[i] = obj
		}
	}
	return stripped, nil
}

// getBenchmarkStorage returns the object store benchmarks upload to.
// It respects TRACESMITH_STORAGE_TYPE=s3 from .env or the environment.
// For S3 the keys are isolated under "bench/<benchName>/<timestamp>";
// local runs write to a temp dir that the cleanup removes.
func getBenchmarkStorage(b *testing.B, benchName string) (storage.ObjectStorage, func()) {
	// Try loading .env from the repository root.
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
			b.Fatal("TRACESMITH_S3_BUCKET is required for s3 benchmarks")
		}

		cfg := storage.DefaultS3Config()
		if region := os.Getenv("TRACESMITH_S3_REGION"); region != "" {
			cfg.Region = region
		}
		if endpoint := os.Getenv("TRACESMITH_S3_ENDPOINT"); endpoint != "" {
			cfg.Endpoint = endpoint
			cfg.UsePathStyle = true
		}

		st, err := storage.NewS3Storage(context.Background(), bucket, cfg)
		if err != nil {
			b.Fatalf("failed to initialize S3 storage: %v", err)
		}

		prefix := fmt.Sprintf("bench/%s/%d", benchName, time.Now().UnixNano())
		b.Logf("running benchmark against s3 bucket %s prefix %s", bucket, prefix)

		prefixed := &PrefixedStorage{inner: st, prefix: prefix}
		cleanup := func() {
			ctx := context.Background()
			objects, err := st.ListObjects(ctx, prefix)
			if err != nil {
				return
			}
			for _, obj := range objects {
				_ = st.Delete(ctx, obj)
			}
		}
		return prefixed, cleanup
	}

	dir, err := os.MkdirTemp("", "tracesmith-bench-"+benchName+"-*")
	if err != nil {
		b.Fatal(err)
	}
	storageDir := path.Join(dir, "storage")
	os.MkdirAll(storageDir, 0755)

	st, err := storage.NewLocalStorage(storageDir)
	if err != nil {
		b.Fatal(err)
	}
	return st, func() { os.RemoveAll(dir) }
}

// writeTraceFile writes a trace-shaped file: 4 KB pages of repetitive
// payload behind a varying header, roughly matching how well simulator
// traces compress.
func writeTraceFile(b *testing.B, dir, name string, size int64) string {
	b.Helper()

	page := make([]byte, 4096)
	for i := range page {
		page[i] = byte(i % 251)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		b.Fatal(err)
	}
	defer f.Close()

	var written int64
	for seq := uint32(0); written < size; seq++ {
		page[0] = byte(seq)
		page[1] = byte(seq >> 8)
		page[2] = byte(seq >> 16)
		page[3] = byte(seq >> 24)
		n := int64(len(page))
		if size-written < n {
			n = size - written
		}
		if _, err := f.Write(page[:n]); err != nil {
			b.Fatal(err)
		}
		written += n
	}
	return path
}
