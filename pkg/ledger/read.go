package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cccc-dev/cccc/pkg/types"
)

// Filter narrows a ledger read. Zero values mean "no constraint".
// Around centers the window on one event with Before/After counts; it is
// mutually exclusive with FromID/ToID.
type Filter struct {
	Kinds  []types.EventKind
	FromID string
	ToID   string
	Around string
	Before int
	After  int
	Substr string
	Limit  int
}

// ReadResult carries events in ascending id order and whether more
// matching events exist on either side of the returned window.
type ReadResult struct {
	Events     []*types.Event
	MoreBefore bool
	MoreAfter  bool
}

// Read scans a group's ledger through an independent read handle, so it
// never contends with the writer and never observes a partial line.
func (s *Store) Read(groupID string, f Filter) (*ReadResult, error) {
	if !s.GroupExists(groupID) {
		return nil, types.E(types.ErrNoSuchGroup, "no such group: %s", groupID)
	}

	path := filepath.Join(s.GroupDir(groupID), "ledger.jsonl")
	file, err := os.Open(path)
	if err != nil {
		return nil, types.E(types.ErrIO, "failed to open ledger: %v", err)
	}
	defer file.Close()

	var kindSet map[types.EventKind]bool
	if len(f.Kinds) > 0 {
		kindSet = make(map[types.EventKind]bool, len(f.Kinds))
		for _, k := range f.Kinds {
			kindSet[k] = true
		}
	}

	matches := func(ev *types.Event) bool {
		if kindSet != nil && !kindSet[ev.Kind] {
			return false
		}
		if f.Substr != "" && !strings.Contains(string(ev.Data), f.Substr) {
			return false
		}
		return true
	}

	// One pass, collecting every match in the range; windowing applies
	// after. Ledgers are compacted, so a full scan stays proportional to
	// the retained suffix.
	var all []*types.Event
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ev := &types.Event{}
		if err := json.Unmarshal(line, ev); err != nil {
			// A torn tail is repaired at open; mid-file damage is surfaced.
			return nil, types.E(types.ErrIO, "corrupt ledger line in %s", groupID)
		}
		if f.FromID != "" && ev.ID < f.FromID {
			continue
		}
		if f.ToID != "" && ev.ID > f.ToID {
			break
		}
		if matches(ev) {
			all = append(all, ev)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, types.E(types.ErrIO, "failed to scan ledger: %v", err)
	}

	res := &ReadResult{}
	switch {
	case f.Around != "":
		center := -1
		for i, ev := range all {
			if ev.ID == f.Around {
				center = i
				break
			}
		}
		if center < 0 {
			return res, nil
		}
		lo := center - f.Before
		if lo < 0 {
			lo = 0
		}
		hi := center + f.After + 1
		if hi > len(all) {
			hi = len(all)
		}
		res.Events = all[lo:hi]
		res.MoreBefore = lo > 0
		res.MoreAfter = hi < len(all)
	case f.Limit > 0 && len(all) > f.Limit:
		// Keep the newest window; older matches exist before it.
		res.Events = all[len(all)-f.Limit:]
		res.MoreBefore = true
	default:
		res.Events = all
	}
	return res, nil
}

// Get returns a single event by id, or nil if absent.
func (s *Store) Get(groupID, eventID string) (*types.Event, error) {
	res, err := s.Read(groupID, Filter{FromID: eventID, ToID: eventID})
	if err != nil {
		return nil, err
	}
	if len(res.Events) == 0 {
		return nil, nil
	}
	return res.Events[0], nil
}
