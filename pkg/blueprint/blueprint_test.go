package blueprint

import (
	"strings"
	"testing"
	"time"

	"github.com/cccc-dev/cccc/pkg/types"
)

func exportFixture(t *testing.T) []byte {
	t.Helper()
	settings := types.DefaultSettings()
	settings.MinIntervalSeconds = 30
	g := &types.Group{
		ID:       "g-demo",
		Title:    "demo",
		Topic:    "testing",
		State:    types.GroupActive,
		Scopes:   []types.Scope{{Key: "repo", Path: "/work/repo"}},
		Settings: settings,
	}
	actors := []*types.Actor{
		{ID: "alpha", Role: types.RoleForeman, Runtime: "claude", Runner: types.RunnerPTY, Enabled: true},
		{ID: "beta", Role: types.RolePeer, Runner: types.RunnerHeadless, Enabled: true},
	}
	rs := types.Ruleset{Version: 3, Rules: []types.Rule{{
		ID:      "heartbeat",
		Trigger: types.Trigger{Kind: types.TriggerEverySeconds, Seconds: 60},
		Action:  types.Action{Kind: types.ActionNotify, Text: "ping"},
		Enabled: true,
	}}}
	out, err := Export(g, actors, rs)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	return out
}

func TestExportImportRoundTrip(t *testing.T) {
	out := exportFixture(t)

	bp, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if bp.Title != "demo" || bp.Topic != "testing" {
		t.Errorf("metadata = %q/%q, want demo/testing", bp.Title, bp.Topic)
	}
	if len(bp.Actors) != 2 || bp.Actors[0].ID != "alpha" || bp.Actors[1].Runner != types.RunnerHeadless {
		t.Errorf("actors = %+v", bp.Actors)
	}
	if len(bp.Scopes) != 1 || bp.Scopes[0].Key != "repo" {
		t.Errorf("scopes = %+v", bp.Scopes)
	}
	if len(bp.Rules) != 1 || bp.Rules[0].ID != "heartbeat" {
		t.Errorf("rules = %+v", bp.Rules)
	}

	s := bp.Settings
	if s == nil {
		t.Fatal("Settings = nil, want round-tripped settings")
	}
	if s.MinIntervalSeconds != 30 {
		t.Errorf("min_interval_seconds = %d, want 30", s.MinIntervalSeconds)
	}
	if s.KeepaliveMaxPerActor != types.DefaultSettings().KeepaliveMaxPerActor {
		t.Errorf("defaults lost in round trip: %+v", s)
	}
}

func TestExportExcludesHistoryAndSecrets(t *testing.T) {
	out := string(exportFixture(t))
	for _, banned := range []string{"env", "ledger", "cursor", "im_binding", "channel"} {
		for _, line := range strings.Split(out, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), banned+":") {
				t.Errorf("blueprint leaks %q: %s", banned, line)
			}
		}
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"wrong version", "version: 99\n"},
		{"actor without id", "version: 1\nactors:\n  - runner: pty\n"},
		{"unknown runner", "version: 1\nactors:\n  - id: a\n    runner: warp\n"},
		{"duplicate actor", "version: 1\nactors:\n  - id: a\n    runner: pty\n  - id: a\n    runner: pty\n"},
		{"invalid rule", "version: 1\nrules:\n  - id: r1\n    trigger: {kind: every_seconds}\n    action: {kind: notify, text: x}\n    enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); !types.IsCode(err, types.ErrInvalidPayload) {
				t.Errorf("Parse() code = %v, want invalid_payload", types.CodeOf(err))
			}
		})
	}
}

func TestParseRejectsAtRuleRoundTripLoss(t *testing.T) {
	doc := "version: 1\nrules:\n  - id: once\n    trigger: {kind: at, at: 2026-08-24T12:00:00Z}\n    action: {kind: group_state, state: paused}\n    enabled: true\n"
	bp, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	if !bp.Rules[0].Trigger.At.Equal(want) {
		t.Errorf("at = %v, want %v", bp.Rules[0].Trigger.At, want)
	}
}
