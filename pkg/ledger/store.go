package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cccc-dev/cccc/pkg/events"
	"github.com/cccc-dev/cccc/pkg/log"
	"github.com/cccc-dev/cccc/pkg/types"
)

// maxLineBytes bounds a single ledger line. Attachments are blob
// references, so well-formed lines stay far below this.
const maxLineBytes = 1 << 20

// Store owns every group ledger under one runtime home. It is the sole
// mutator of on-disk group state; readers go through Read with
// independent file handles.
type Store struct {
	home       string
	broker     *events.Broker
	fsyncEvery time.Duration

	mu     sync.Mutex
	groups map[string]*groupLog
}

// groupLog is the single-writer state for one group's ledger file.
type groupLog struct {
	mu        sync.Mutex
	id        string
	dir       string
	file      *os.File
	lock      *os.File
	nextSeq   uint64
	lastFsync time.Time
}

// Config holds store configuration.
type Config struct {
	Home       string
	Broker     *events.Broker
	FsyncEvery time.Duration // cadence for non-obligation events; 0 = every append
}

// NewStore creates a store rooted at cfg.Home. Group ledgers are opened
// lazily on first use and recovered if the tail is torn.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Home == "" {
		return nil, fmt.Errorf("ledger: home directory required")
	}
	if err := os.MkdirAll(filepath.Join(cfg.Home, "groups"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create groups directory: %w", err)
	}
	return &Store{
		home:       cfg.Home,
		broker:     cfg.Broker,
		fsyncEvery: cfg.FsyncEvery,
		groups:     make(map[string]*groupLog),
	}, nil
}

// GroupDir returns the on-disk directory for a group.
func (s *Store) GroupDir(groupID string) string {
	return filepath.Join(s.home, "groups", groupID)
}

// CreateGroup initializes the on-disk layout for a new group.
func (s *Store) CreateGroup(groupID string) error {
	dir := s.GroupDir(groupID)
	for _, sub := range []string{"state", filepath.Join("state", "blobs"), filepath.Join("state", "env")} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return types.E(types.ErrIO, "failed to create group layout: %v", err)
		}
	}
	_, err := s.open(groupID)
	return err
}

// Open readies a group's ledger for use, repairing a torn tail if the
// previous process died mid-write. The daemon calls this for every
// group at startup so recovery happens before any read.
func (s *Store) Open(groupID string) error {
	_, err := s.open(groupID)
	return err
}

// GroupExists reports whether a group has an on-disk ledger.
func (s *Store) GroupExists(groupID string) bool {
	_, err := os.Stat(filepath.Join(s.GroupDir(groupID), "ledger.jsonl"))
	return err == nil
}

// ListGroups returns the ids of all groups present on disk.
func (s *Store) ListGroups() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.home, "groups"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.E(types.ErrIO, "failed to list groups: %v", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// open returns the writer state for a group, recovering the tail on
// first open. The caller must not hold gl.mu.
func (s *Store) open(groupID string) (*groupLog, error) {
	s.mu.Lock()
	if gl, ok := s.groups[groupID]; ok {
		s.mu.Unlock()
		return gl, nil
	}
	s.mu.Unlock()

	dir := s.GroupDir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.E(types.ErrIO, "failed to create group dir: %v", err)
	}

	// Exclusive advisory lock guards against a second writer process.
	lock, err := acquireLock(filepath.Join(dir, "ledger.lock"))
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "ledger.jsonl")
	nextSeq, recovered, err := recoverTail(path)
	if err != nil {
		lock.Close()
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		lock.Close()
		return nil, types.E(types.ErrIO, "failed to open ledger: %v", err)
	}

	gl := &groupLog{id: groupID, dir: dir, file: f, lock: lock, nextSeq: nextSeq}

	s.mu.Lock()
	if existing, ok := s.groups[groupID]; ok {
		// Lost the race; keep the first writer.
		s.mu.Unlock()
		f.Close()
		lock.Close()
		return existing, nil
	}
	s.groups[groupID] = gl
	s.mu.Unlock()

	if recovered {
		log.WithGroupID(groupID).Warn().Msg("ledger tail truncated to last well-formed record")
		if _, err := s.Append(groupID, types.KindLedgerRecovered, types.ByDaemon, "", nil); err != nil {
			return nil, err
		}
	}
	return gl, nil
}

// Append validates, commits, and publishes one event. The event is
// durable before Append returns whenever its kind carries obligations;
// other kinds fsync on the configured cadence.
func (s *Store) Append(groupID string, kind types.EventKind, by, scopeKey string, data json.RawMessage) (*types.Event, error) {
	if err := types.ValidatePayload(kind, data); err != nil {
		return nil, err
	}
	if !s.GroupExists(groupID) && kind != types.KindGroupCreate && kind != types.KindLedgerRecovered {
		return nil, types.E(types.ErrNoSuchGroup, "no such group: %s", groupID)
	}

	gl, err := s.open(groupID)
	if err != nil {
		return nil, err
	}

	gl.mu.Lock()
	defer gl.mu.Unlock()

	ev := &types.Event{
		V:        types.EventVersion,
		ID:       types.FormatEventID(gl.nextSeq),
		TS:       time.Now().UTC(),
		Kind:     kind,
		GroupID:  groupID,
		ScopeKey: scopeKey,
		By:       by,
		Data:     data,
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return nil, types.E(types.ErrInternal, "failed to encode event: %v", err)
	}
	line = append(line, '\n')

	if _, err := gl.file.Write(line); err != nil {
		return nil, types.E(types.ErrIO, "failed to append event: %v", err)
	}

	if kind.CarriesObligation() || s.fsyncEvery == 0 || time.Since(gl.lastFsync) >= s.fsyncEvery {
		if err := gl.file.Sync(); err != nil {
			return nil, types.E(types.ErrIO, "failed to sync ledger: %v", err)
		}
		gl.lastFsync = time.Now()
	}

	gl.nextSeq++

	if s.broker != nil {
		s.broker.Publish(ev)
	}
	return ev, nil
}

// LastID returns the id of the most recently committed event, or "" for
// an empty ledger.
func (s *Store) LastID(groupID string) (string, error) {
	gl, err := s.open(groupID)
	if err != nil {
		return "", err
	}
	gl.mu.Lock()
	defer gl.mu.Unlock()
	if gl.nextSeq == 0 {
		return "", nil
	}
	return types.FormatEventID(gl.nextSeq - 1), nil
}

// Close releases file handles and advisory locks for every open group.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, gl := range s.groups {
		gl.mu.Lock()
		if err := gl.file.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		gl.file.Close()
		gl.lock.Close()
		gl.mu.Unlock()
		delete(s.groups, id)
	}
	return firstErr
}

// DeleteGroup removes a group's on-disk state entirely. Only the daemon
// calls this, after an explicit delete confirmed by id.
func (s *Store) DeleteGroup(groupID string) error {
	s.mu.Lock()
	if gl, ok := s.groups[groupID]; ok {
		gl.mu.Lock()
		gl.file.Close()
		gl.lock.Close()
		gl.mu.Unlock()
		delete(s.groups, groupID)
	}
	s.mu.Unlock()
	if err := os.RemoveAll(s.GroupDir(groupID)); err != nil {
		return types.E(types.ErrIO, "failed to delete group: %v", err)
	}
	return nil
}

// acquireLock takes an exclusive flock on path, failing fast if another
// process holds it.
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, types.E(types.ErrIO, "failed to open lock file: %v", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, types.E(types.ErrIO, "ledger is locked by another process: %v", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

// recoverTail scans the ledger, truncating a torn final line, and
// returns the next sequence number plus whether truncation happened.
func recoverTail(path string) (uint64, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, types.E(types.ErrIO, "failed to open ledger: %v", err)
	}
	defer f.Close()

	var (
		nextSeq   uint64
		validEnd  int64
		recovered bool
	)
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			// No trailing newline: the final line is torn.
			if len(strings.TrimSpace(line)) > 0 {
				recovered = true
			}
			break
		}
		var ev types.Event
		if jsonErr := json.Unmarshal([]byte(line), &ev); jsonErr != nil {
			recovered = true
			break
		}
		seq, idErr := types.ParseEventID(ev.ID)
		if idErr != nil {
			recovered = true
			break
		}
		nextSeq = seq + 1
		validEnd += int64(len(line))
	}

	if recovered {
		if err := os.Truncate(path, validEnd); err != nil {
			return 0, false, types.E(types.ErrIO, "failed to truncate torn ledger: %v", err)
		}
	}
	return nextSeq, recovered, nil
}
