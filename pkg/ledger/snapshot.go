package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cccc-dev/cccc/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketMeta      = []byte("meta")
	keyLatest       = []byte("latest")
)

// SnapshotData is the payload of a synthetic snapshot event: a blob
// reference to the serialized projection state at that point.
type SnapshotData struct {
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
	UpTo   string `json:"up_to"`
}

// sidecar opens the bbolt snapshot cache for a group. The sidecar is a
// cache only: losing it costs a full ledger replay, nothing else.
func (s *Store) sidecar(groupID string) (*bolt.DB, error) {
	path := filepath.Join(s.GroupDir(groupID), "state", "projection.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, types.E(types.ErrIO, "failed to open projection sidecar: %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSnapshots, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, types.E(types.ErrIO, "failed to init projection sidecar: %v", err)
	}
	return db, nil
}

// SaveSnapshot records serialized projection state as of event upTo,
// both in the blob store and in the sidecar cache.
func (s *Store) SaveSnapshot(groupID, upTo string, state []byte) (*SnapshotData, error) {
	sha, n, err := s.PutBlob(groupID, bytes.NewReader(state))
	if err != nil {
		return nil, err
	}
	snap := &SnapshotData{SHA256: sha, Bytes: n, UpTo: upTo}

	db, err := s.sidecar(groupID)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		enc, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketSnapshots).Put([]byte(upTo), enc); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyLatest, []byte(upTo))
	})
	if err != nil {
		return nil, types.E(types.ErrIO, "failed to record snapshot: %v", err)
	}
	return snap, nil
}

// LoadSnapshot returns the latest cached snapshot state, or ("", nil,
// nil) when none exists.
func (s *Store) LoadSnapshot(groupID string) (string, []byte, error) {
	if _, err := os.Stat(filepath.Join(s.GroupDir(groupID), "state", "projection.db")); err != nil {
		return "", nil, nil
	}
	db, err := s.sidecar(groupID)
	if err != nil {
		return "", nil, err
	}
	defer db.Close()

	var snap SnapshotData
	found := false
	err = db.View(func(tx *bolt.Tx) error {
		latest := tx.Bucket(bucketMeta).Get(keyLatest)
		if latest == nil {
			return nil
		}
		enc := tx.Bucket(bucketSnapshots).Get(latest)
		if enc == nil {
			return nil
		}
		found = true
		return json.Unmarshal(enc, &snap)
	})
	if err != nil {
		return "", nil, types.E(types.ErrIO, "failed to load snapshot: %v", err)
	}
	if !found {
		return "", nil, nil
	}

	r, err := s.GetBlob(groupID, snap.SHA256)
	if err != nil {
		// Blob pruned or damaged; treat as no snapshot and replay.
		return "", nil, nil
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return "", nil, types.E(types.ErrIO, "failed to read snapshot blob: %v", err)
	}
	return snap.UpTo, buf.Bytes(), nil
}

// Compact truncates events strictly before upTo, replacing them with one
// synthetic snapshot event bearing upTo's id. The projection state must
// already be saved via SaveSnapshot for the same id. The rewrite is
// staged to a temp file and atomically renamed in.
func (s *Store) Compact(groupID, upTo string, snap *SnapshotData) error {
	if snap == nil || snap.UpTo != upTo {
		return types.E(types.ErrInvalidPayload, "compact requires a snapshot at %s", upTo)
	}
	gl, err := s.open(groupID)
	if err != nil {
		return err
	}

	gl.mu.Lock()
	defer gl.mu.Unlock()

	path := filepath.Join(gl.dir, "ledger.jsonl")
	src, err := os.Open(path)
	if err != nil {
		return types.E(types.ErrIO, "failed to open ledger: %v", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(gl.dir, ".compact-*")
	if err != nil {
		return types.E(types.ErrIO, "failed to stage compaction: %v", err)
	}
	defer os.Remove(tmp.Name())

	// The synthetic snapshot event takes upTo's id and replaces the
	// original event at that position, preserving id ordering.
	var original types.Event
	foundUpTo := false
	w := bufio.NewWriter(tmp)
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return types.E(types.ErrIO, "corrupt ledger line during compaction")
		}
		switch {
		case ev.ID < upTo:
			continue
		case ev.ID == upTo:
			original = ev
			foundUpTo = true
			data, err := json.Marshal(snap)
			if err != nil {
				return types.E(types.ErrInternal, "failed to encode snapshot data: %v", err)
			}
			synthetic := types.Event{
				V:       types.EventVersion,
				ID:      upTo,
				TS:      original.TS,
				Kind:    types.KindSnapshot,
				GroupID: groupID,
				By:      types.ByDaemon,
				Data:    data,
			}
			enc, err := json.Marshal(&synthetic)
			if err != nil {
				return types.E(types.ErrInternal, "failed to encode snapshot event: %v", err)
			}
			w.Write(enc)
			w.WriteByte('\n')
		default:
			w.Write(line)
			w.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		return types.E(types.ErrIO, "failed to scan ledger: %v", err)
	}
	if !foundUpTo {
		return types.E(types.ErrInvalidPayload, "no event %s in group %s", upTo, groupID)
	}
	if err := w.Flush(); err != nil {
		return types.E(types.ErrIO, "failed to write compacted ledger: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		return types.E(types.ErrIO, "failed to sync compacted ledger: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return types.E(types.ErrIO, "failed to close compacted ledger: %v", err)
	}

	// Swap in the compacted file and repoint the writer handle.
	gl.file.Close()
	if err := os.Rename(tmp.Name(), path); err != nil {
		return types.E(types.ErrIO, "failed to swap compacted ledger: %v", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return types.E(types.ErrIO, "failed to reopen ledger: %v", err)
	}
	gl.file = f
	return nil
}
