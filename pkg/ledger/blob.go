package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/cccc-dev/cccc/pkg/types"
)

// blobDir returns the content-addressed blob root for a group.
func (s *Store) blobDir(groupID string) string {
	return filepath.Join(s.GroupDir(groupID), "state", "blobs")
}

// PutBlob stores content by hash. Writing is temp-file-then-rename, so
// concurrent writers of the same content collapse to one file and a
// reader never sees a partial blob.
func (s *Store) PutBlob(groupID string, r io.Reader) (string, int64, error) {
	dir := s.blobDir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, types.E(types.ErrIO, "failed to create blob dir: %v", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", 0, types.E(types.ErrIO, "failed to create blob temp file: %v", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		tmp.Close()
		return "", 0, types.E(types.ErrIO, "failed to write blob: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, types.E(types.ErrIO, "failed to sync blob: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, types.E(types.ErrIO, "failed to close blob: %v", err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	final := s.blobPath(groupID, sum)

	if _, statErr := os.Stat(final); statErr == nil {
		// Already stored; idempotent.
		return sum, n, nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", 0, types.E(types.ErrIO, "failed to create blob shard dir: %v", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", 0, types.E(types.ErrIO, "failed to finalize blob: %v", err)
	}
	return sum, n, nil
}

// GetBlob opens stored content by hash.
func (s *Store) GetBlob(groupID, sha string) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(groupID, sha))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.E(types.ErrIO, "blob not found: %s", sha)
		}
		return nil, types.E(types.ErrIO, "failed to open blob: %v", err)
	}
	return f, nil
}

// BlobPath returns the filesystem path for a stored blob without opening
// it. Callers that hand paths to child processes use this.
func (s *Store) BlobPath(groupID, sha string) (string, error) {
	p := s.blobPath(groupID, sha)
	if _, err := os.Stat(p); err != nil {
		return "", types.E(types.ErrIO, "blob not found: %s", sha)
	}
	return p, nil
}

// HasBlob reports whether content with the given hash is stored.
func (s *Store) HasBlob(groupID, sha string) bool {
	_, err := os.Stat(s.blobPath(groupID, sha))
	return err == nil
}

func (s *Store) blobPath(groupID, sha string) string {
	if len(sha) < 2 {
		return filepath.Join(s.blobDir(groupID), "invalid", sha)
	}
	return filepath.Join(s.blobDir(groupID), sha[:2], sha)
}

// VerifyBlobRefs checks that every attachment on a message points at
// stored content. Appends of chat messages call this before commit so
// events never reference missing blobs.
func (s *Store) VerifyBlobRefs(groupID string, atts []types.Attachment) error {
	for _, a := range atts {
		if !s.HasBlob(groupID, a.SHA256) {
			return types.E(types.ErrInvalidPayload, "attachment references missing blob %s", a.SHA256).
				WithDetail("sha256", a.SHA256)
		}
	}
	return nil
}
