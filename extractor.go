package salesetl

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// Extractor extracts raw export bytes from a source such as a local file or Cloud Storage.
// The returned func releases the underlying reader.
type Extractor interface {
	Extract(context.Context, Source) (io.Reader, func(), error)
}

// FileExtractor reads exports from the local filesystem.
type FileExtractor struct {
	// Root is prepended to relative source names. Empty means the working directory.
	Root string
}

// Extract opens the file named by src.
func (e *FileExtractor) Extract(ctx context.Context, src Source) (io.Reader, func(), error) {
	l := log.Ctx(ctx)

	path := src.Name
	if e.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(e.Root, path)
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		l.Error().Str("path", path).Msg("CSV file not found")
		return nil, nil, xerrors.Errorf("%s: %w", path, ErrSourceNotFound)
	}
	if err != nil {
		l.Error().Err(err).Str("path", path).Msg("failed to open input file")
		return nil, nil, xerrors.Errorf("failed to open %s: %w", path, err)
	}

	return f, func() { f.Close() }, nil
}

// StorageExtractor reads exports from Cloud Storage.
type StorageExtractor struct {
	storage *storage.Client
}

// NewStorageExtractor builds a StorageExtractor with default credentials.
func NewStorageExtractor(ctx context.Context) (*StorageExtractor, error) {
	s, err := storage.NewClient(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to build storage client: %w", err)
	}

	return &StorageExtractor{storage: s}, nil
}

// Extract opens a reader on the object named by src.
func (e *StorageExtractor) Extract(ctx context.Context, src Source) (io.Reader, func(), error) {
	l := log.Ctx(ctx)

	obj := e.storage.Bucket(src.Bucket).Object(src.Name)
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		l.Error().Str("object", src.FullPath()).Msg("object not found")
		return nil, nil, xerrors.Errorf("%s: %w", src.FullPath(), ErrSourceNotFound)
	}
	if err != nil {
		l.Error().Err(err).Msg("failed to initialize object reader")
		return nil, nil, xerrors.Errorf("failed to get reader of %s: %w", src.FullPath(), err)
	}
	l.Debug().Int64("size", r.Attrs.Size).Str("object", src.FullPath()).Msg("object reader opened")

	return r, func() { r.Close() }, nil
}

// Close releases the storage client.
func (e *StorageExtractor) Close() error {
	return e.storage.Close()
}

// Extractors routes sources to the local or the Cloud Storage extractor.
type Extractors struct {
	File    Extractor
	Storage Extractor
}

// Extract delegates to Storage for bucket sources and to File otherwise.
func (e *Extractors) Extract(ctx context.Context, src Source) (io.Reader, func(), error) {
	if src.IsStorage() {
		if e.Storage == nil {
			return nil, nil, xerrors.Errorf("no storage extractor configured for %s", src.FullPath())
		}
		return e.Storage.Extract(ctx, src)
	}

	if e.File == nil {
		return nil, nil, xerrors.Errorf("no file extractor configured for %s", src.FullPath())
	}
	return e.File.Extract(ctx, src)
}

// Close closes the routed extractors which hold clients.
func (e *Extractors) Close() error {
	return closeAll(e.File, e.Storage)
}
