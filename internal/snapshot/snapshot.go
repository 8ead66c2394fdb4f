// Package snapshot publishes the registry file to object storage and fetches
// it back.
//
// A snapshot is two objects under a prefix: the registry database as a
// snappy-framed stream and a JSON manifest. The data object is uploaded first
// so a manifest never points at a missing or partial stream.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/golang/snappy"

	regerrors "github.com/minipdb/minipdb/internal/errors"
	"github.com/minipdb/minipdb/internal/logging"
	"github.com/minipdb/minipdb/internal/registry"
	"github.com/minipdb/minipdb/internal/storage"
	"github.com/minipdb/minipdb/internal/store"
)

// Object names under the snapshot prefix.
const (
	DataObject     = "minipdb.sqlite.sz"
	ManifestObject = "minipdb.json"
)

// Snapshots moves registry snapshots through an ObjectStorage.
type Snapshots struct {
	objects storage.ObjectStorage
	prefix  string
	log     *logging.Logger
	now     func() time.Time
}

// New creates a Snapshots publishing under prefix.
func New(objects storage.ObjectStorage, prefix string, log *logging.Logger) *Snapshots {
	return &Snapshots{
		objects: objects,
		prefix:  prefix,
		log:     logging.OrNop(log),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Snapshots) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Location describes where snapshots are published.
func (s *Snapshots) Location() string {
	return s.objects.Location() + "/" + s.key("")
}

// Publish copies the registry held by st and uploads it.
func (s *Snapshots) Publish(ctx context.Context, st *store.SQLiteStore) (*Manifest, error) {
	models, err := registry.New(st, s.log).List(ctx)
	if err != nil {
		return nil, err
	}

	work, err := os.MkdirTemp("", "minipdb-publish-*")
	if err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeWriteFailed, "create work directory", err)
	}
	defer os.RemoveAll(work)

	raw := filepath.Join(work, "minipdb.sqlite")
	if err := st.BackupTo(ctx, raw); err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeReadFailed, "copy registry", err)
	}

	packed := filepath.Join(work, DataObject)
	size, compressed, err := compress(raw, packed)
	if err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeWriteFailed, "compress registry", err)
	}

	etag, err := s.objects.UploadLarge(ctx, packed, s.key(DataObject))
	if err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeUploadFailed, "upload "+s.key(DataObject), err)
	}

	m := &Manifest{
		CreatedAt:      s.now(),
		Models:         models,
		Size:           size,
		CompressedSize: compressed,
		ETag:           etag,
	}
	manifestPath := filepath.Join(work, ManifestObject)
	if err := m.WriteToFile(manifestPath); err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeWriteFailed, "write manifest", err)
	}
	if err := s.objects.Upload(ctx, manifestPath, s.key(ManifestObject)); err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeUploadFailed, "upload "+s.key(ManifestObject), err)
	}

	s.log.Info("snapshot published", "location", s.Location(), "models", len(models),
		"size", size, "compressed", compressed)
	return m, nil
}

// Fetch downloads the published snapshot and installs it at dest, replacing
// any existing file. The download is verified by opening it as a registry
// before it is moved into place.
func (s *Snapshots) Fetch(ctx context.Context, dest string) (*Manifest, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeWriteFailed, "create "+dir, err)
	}
	work, err := os.MkdirTemp(dir, ".minipdb-fetch-*")
	if err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeWriteFailed, "create work directory", err)
	}
	defer os.RemoveAll(work)

	manifestPath := filepath.Join(work, ManifestObject)
	if err := s.download(ctx, ManifestObject, manifestPath); err != nil {
		return nil, err
	}
	m, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeDownloadFailed, "read manifest", err)
	}

	packed := filepath.Join(work, DataObject)
	if err := s.download(ctx, DataObject, packed); err != nil {
		return nil, err
	}
	raw := filepath.Join(work, "minipdb.sqlite")
	size, err := decompress(packed, raw)
	if err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeDownloadFailed, "decompress snapshot", err)
	}
	if size != m.Size {
		return nil, regerrors.NewStorageError(regerrors.CodeDownloadFailed,
			fmt.Sprintf("snapshot size %d does not match manifest size %d", size, m.Size), nil)
	}
	if err := verify(ctx, raw, m); err != nil {
		return nil, err
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dest + suffix); err != nil && !os.IsNotExist(err) {
			return nil, regerrors.NewStorageError(regerrors.CodeWriteFailed, "remove "+dest+suffix, err)
		}
	}
	if err := os.Rename(raw, dest); err != nil {
		return nil, regerrors.NewStorageError(regerrors.CodeWriteFailed, "install "+dest, err)
	}

	s.log.Info("snapshot fetched", "location", s.Location(), "dest", dest,
		"models", len(m.Models), "created_at", m.CreatedAt)
	return m, nil
}

// Exists reports whether a snapshot has been published.
func (s *Snapshots) Exists(ctx context.Context) (bool, error) {
	return s.objects.Exists(ctx, s.key(ManifestObject))
}

func (s *Snapshots) download(ctx context.Context, name, localPath string) error {
	err := s.objects.Download(ctx, s.key(name), localPath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return regerrors.NewNotFoundError(regerrors.CodeTableNotFound,
			fmt.Sprintf("no snapshot published at %s", s.Location()))
	}
	if err != nil {
		return regerrors.NewStorageError(regerrors.CodeDownloadFailed, "download "+s.key(name), err)
	}
	return nil
}

func verify(ctx context.Context, dbPath string, m *Manifest) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return regerrors.NewStorageError(regerrors.CodeDownloadFailed, "open fetched registry", err)
	}
	defer st.Close()

	models, err := registry.New(st, nil).List(ctx)
	if err != nil {
		return err
	}
	if len(models) != len(m.Models) {
		return regerrors.NewStorageError(regerrors.CodeDownloadFailed,
			fmt.Sprintf("fetched registry has %d models, manifest lists %d", len(models), len(m.Models)), nil)
	}
	return nil
}

// compress writes src to dst as a snappy framed stream and returns both sizes.
func compress(src, dst string) (int64, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, 0, err
	}
	w := snappy.NewBufferedWriter(out)
	n, err := io.Copy(w, in)
	if err != nil {
		out.Close()
		return 0, 0, err
	}
	if err := w.Close(); err != nil {
		out.Close()
		return 0, 0, err
	}
	if err := out.Close(); err != nil {
		return 0, 0, err
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, 0, err
	}
	return n, info.Size(), nil
}

func decompress(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, snappy.NewReader(in))
	if err != nil {
		out.Close()
		return 0, err
	}
	return n, out.Close()
}
