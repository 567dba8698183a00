package packager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"

	"ojbackend/internal/common/storage"
	"ojbackend/internal/submission/model"
	"ojbackend/pkg/errors"
)

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStorage) PutObject(_ context.Context, bucket, key string, reader io.Reader, _ int64, _ string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = data
	return nil
}

func (s *fakeStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, fmt.Errorf("object not found: %s", key)
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, contents := range files {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatalf("create zip entry failed: %v", err)
		}
		if _, err := entry.Write([]byte(contents)); err != nil {
			t.Fatalf("write zip entry failed: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close zip failed: %v", err)
	}
	return buf.Bytes()
}

func newTestPackager(t *testing.T, store *fakeStorage) *Packager {
	t.Helper()
	p, err := NewPackager(store, Config{Bucket: "submissions", KeyPrefix: "source"})
	if err != nil {
		t.Fatalf("NewPackager failed: %v", err)
	}
	return p
}

func TestStoreAcceptsSingleEntryArchive(t *testing.T) {
	t.Parallel()

	store := newFakeStorage()
	p := newTestPackager(t, store)

	raw := makeZip(t, map[string]string{"main.py": "print(0)\n"})
	bundle, err := p.Prepare(model.LanguagePython, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if bundle.EntryPoint() != "main.py" || bundle.SHA256() == "" {
		t.Fatalf("unexpected bundle: %q %q", bundle.EntryPoint(), bundle.SHA256())
	}
	artifact, err := p.Store(context.Background(), "sub-1", bundle)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if artifact.Key != "source/sub-1/src.zip" {
		t.Errorf("key: got %q", artifact.Key)
	}
	if artifact.EntryPoint != "main.py" {
		t.Errorf("entry point: got %q", artifact.EntryPoint)
	}
	if artifact.SHA256 == "" || artifact.SizeBytes <= 0 {
		t.Errorf("expected digest and size to be set, got %+v", artifact)
	}

	// The stored copy is a fresh zip holding exactly the entry point.
	reader, err := p.Open(context.Background(), artifact.Key)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reader.Close()
	stored, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read stored archive failed: %v", err)
	}
	zipReader, err := zip.NewReader(bytes.NewReader(stored), int64(len(stored)))
	if err != nil {
		t.Fatalf("stored archive is not a zip: %v", err)
	}
	if len(zipReader.File) != 1 || zipReader.File[0].Name != "main.py" {
		t.Errorf("unexpected stored archive layout: %v", zipReader.File)
	}
}

func TestStoreRejectsBadArchives(t *testing.T) {
	t.Parallel()

	store := newFakeStorage()
	p := newTestPackager(t, store)

	cases := []struct {
		name string
		lang model.Language
		body []byte
		code errors.ErrorCode
	}{
		{"empty body", model.LanguagePython, nil, errors.EmptyUpload},
		{"not a zip", model.LanguagePython, []byte("print(0)"), errors.InvalidArchive},
		{"empty zip", model.LanguagePython, makeZip(t, nil), errors.EmptyUpload},
		{"two files", model.LanguagePython, makeZip(t, map[string]string{"main.py": "a", "extra.py": "b"}), errors.WrongFileCount},
		{"wrong name", model.LanguagePython, makeZip(t, map[string]string{"solution.py": "a"}), errors.MissingEntryPoint},
		{"language mismatch", model.LanguageC, makeZip(t, map[string]string{"main.py": "a"}), errors.MissingEntryPoint},
		{"nested entry", model.LanguagePython, makeZip(t, map[string]string{"src/main.py": "a"}), errors.MissingEntryPoint},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := p.Prepare(tc.lang, bytes.NewReader(tc.body))
			if !errors.Is(err, tc.code) {
				t.Errorf("got %v, want code %d", err, tc.code)
			}
		})
	}

	// None of the rejected uploads may reach storage.
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.objects) != 0 {
		t.Errorf("expected storage to stay empty, got %d objects", len(store.objects))
	}
}

func TestStoreRejectsOversizedArchive(t *testing.T) {
	t.Parallel()

	store := newFakeStorage()
	p, err := NewPackager(store, Config{Bucket: "submissions", MaxBytes: 64})
	if err != nil {
		t.Fatalf("NewPackager failed: %v", err)
	}

	big := makeZip(t, map[string]string{"main.py": strings.Repeat("x", 1024)})
	if _, err := p.Prepare(model.LanguagePython, bytes.NewReader(big)); !errors.Is(err, errors.ArchiveTooLarge) {
		t.Errorf("got %v, want ArchiveTooLarge", err)
	}
}

func TestStoreSurfacesStorageFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStorage()
	store.putErr = fmt.Errorf("connection refused")
	p := newTestPackager(t, store)

	raw := makeZip(t, map[string]string{"main.c": "int main(){}"})
	bundle, err := p.Prepare(model.LanguageC, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := p.Store(context.Background(), "sub-1", bundle); !errors.Is(err, errors.SourceStoreFailed) {
		t.Errorf("got %v, want SourceStoreFailed", err)
	}
}
