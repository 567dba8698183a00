package packager

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"ojbackend/internal/common/storage"
	"ojbackend/internal/submission/model"
	"ojbackend/pkg/errors"
)

const (
	defaultMaxArchiveBytes = 8 << 20 // 8 MiB
	archiveContentType     = "application/zip"
)

// Artifact describes a stored source archive.
type Artifact struct {
	Key        string
	SizeBytes  int64
	SHA256     string
	EntryPoint string
}

// Bundle is a validated, normalized source archive that has not been
// written to storage yet.
type Bundle struct {
	data       []byte
	sha256     string
	entryPoint string
}

// SHA256 returns the digest of the normalized archive.
func (b *Bundle) SHA256() string { return b.sha256 }

// EntryPoint returns the bundled source file name.
func (b *Bundle) EntryPoint() string { return b.entryPoint }

// Config defines configuration for the source packager.
type Config struct {
	Bucket    string `yaml:"bucket"`
	KeyPrefix string `yaml:"keyPrefix"`
	MaxBytes  int64  `yaml:"maxBytes"`
}

// Packager validates uploaded source archives and stores a normalized
// copy in object storage. An archive is accepted only if it is a valid
// zip holding exactly one file named after the declared language's entry
// point; everything else (directories, extra files, wrong names) is
// rejected before anything touches storage.
type Packager struct {
	storage   storage.ObjectStorage
	bucket    string
	keyPrefix string
	maxBytes  int64
}

// NewPackager creates a source packager.
func NewPackager(objectStorage storage.ObjectStorage, cfg Config) (*Packager, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxArchiveBytes
	}
	return &Packager{
		storage:   objectStorage,
		bucket:    cfg.Bucket,
		keyPrefix: strings.Trim(cfg.KeyPrefix, "/"),
		maxBytes:  cfg.MaxBytes,
	}, nil
}

// Prepare validates archive against lang and returns the normalized
// bundle. It touches nothing durable, so a rejected upload leaves no
// trace anywhere.
func (p *Packager) Prepare(lang model.Language, archive io.Reader) (*Bundle, error) {
	if !lang.Valid() {
		return nil, errors.New(errors.LanguageNotSupported)
	}

	raw, err := readCapped(archive, p.maxBytes)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New(errors.EmptyUpload)
	}

	source, err := extractEntryPoint(raw, lang)
	if err != nil {
		return nil, err
	}

	normalized, err := buildArchive(lang.EntryPoint(), source)
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidArchive, "normalize source archive failed")
	}

	sum := sha256.Sum256(normalized)
	return &Bundle{
		data:       normalized,
		sha256:     hex.EncodeToString(sum[:]),
		entryPoint: lang.EntryPoint(),
	}, nil
}

// Store writes a prepared bundle under the submission's object key.
func (p *Packager) Store(ctx context.Context, submissionID string, bundle *Bundle) (*Artifact, error) {
	if submissionID == "" {
		return nil, errors.BadRequest("submissionID is required")
	}
	if bundle == nil || len(bundle.data) == 0 {
		return nil, errors.New(errors.EmptyUpload)
	}

	key := p.objectKey(submissionID)
	if err := p.storage.PutObject(ctx, p.bucket, key, bytes.NewReader(bundle.data), int64(len(bundle.data)), archiveContentType); err != nil {
		return nil, errors.DownstreamError(err, errors.SourceStoreFailed, "store source archive")
	}

	return &Artifact{
		Key:        key,
		SizeBytes:  int64(len(bundle.data)),
		SHA256:     bundle.sha256,
		EntryPoint: bundle.entryPoint,
	}, nil
}

// Open returns a reader over a previously stored archive.
func (p *Packager) Open(ctx context.Context, sourceKey string) (io.ReadCloser, error) {
	if sourceKey == "" {
		return nil, errors.BadRequest("sourceKey is required")
	}
	reader, err := p.storage.GetObject(ctx, p.bucket, sourceKey)
	if err != nil {
		return nil, errors.DownstreamError(err, errors.StorageError, "open source archive")
	}
	return reader, nil
}

func (p *Packager) objectKey(submissionID string) string {
	if p.keyPrefix == "" {
		return path.Join(submissionID, "src.zip")
	}
	return path.Join(p.keyPrefix, submissionID, "src.zip")
}

func readCapped(reader io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidArchive, "read uploaded archive failed")
	}
	if int64(len(data)) > maxBytes {
		return nil, errors.New(errors.ArchiveTooLarge)
	}
	return data, nil
}

// extractEntryPoint checks the zip structure and returns the entry-point
// file contents.
func extractEntryPoint(raw []byte, lang model.Language) ([]byte, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidArchive, "uploaded archive is not a valid zip file")
	}

	var files []*zip.File
	for _, f := range zipReader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, errors.New(errors.EmptyUpload)
	}
	if len(files) != 1 {
		return nil, errors.Newf(errors.WrongFileCount, "archive must contain exactly one file, found %d", len(files))
	}
	if path.Clean(files[0].Name) != lang.EntryPoint() {
		return nil, errors.Newf(errors.MissingEntryPoint, "archive must contain %s", lang.EntryPoint())
	}

	entry, err := files[0].Open()
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidArchive, "open archive entry failed")
	}
	defer entry.Close()

	source, err := io.ReadAll(entry)
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidArchive, "read archive entry failed")
	}
	return source, nil
}

// buildArchive writes a fresh single-entry zip so downstream consumers
// never see uploader-controlled metadata.
func buildArchive(name string, contents []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	entry, err := writer.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Unix(0, 0).UTC(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := entry.Write(contents); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
