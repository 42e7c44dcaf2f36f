package types

import (
	"encoding/json"
	"testing"
)

func TestEventIDRoundTrip(t *testing.T) {
	id := FormatEventID(42)
	if id != "e-0000000042" {
		t.Errorf("FormatEventID(42) = %q, want e-0000000042", id)
	}

	seq, err := ParseEventID(id)
	if err != nil {
		t.Fatalf("ParseEventID() error = %v", err)
	}
	if seq != 42 {
		t.Errorf("ParseEventID() = %d, want 42", seq)
	}
}

func TestEventIDOrdering(t *testing.T) {
	// Lexicographic order must equal numeric order.
	if FormatEventID(9) >= FormatEventID(10) {
		t.Error("id ordering broken between 9 and 10")
	}
	if FormatEventID(999) >= FormatEventID(1000) {
		t.Error("id ordering broken between 999 and 1000")
	}
}

func TestParseEventIDMalformed(t *testing.T) {
	for _, id := range []string{"", "42", "e-", "e-abc", "x-0000000001"} {
		if _, err := ParseEventID(id); err == nil {
			t.Errorf("ParseEventID(%q) should fail", id)
		}
	}
}

func TestChatMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     ChatMessage
		wantErr bool
	}{
		{"plain text", ChatMessage{Text: "hello"}, false},
		{"empty", ChatMessage{}, true},
		{"attachment only", ChatMessage{Attachments: []Attachment{{SHA256: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Bytes: 10}}}, false},
		{"bad sha", ChatMessage{Attachments: []Attachment{{SHA256: "short"}}}, true},
		{"bad format", ChatMessage{Text: "x", Format: "html"}, true},
		{"bad priority", ChatMessage{Text: "x", Priority: "urgent"}, true},
		{"attention", ChatMessage{Text: "x", Priority: PriorityAttention, ReplyRequired: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsUnknownFieldsSurvive(t *testing.T) {
	in := []byte(`{"min_interval_seconds":5,"future_option":{"a":1},"another":"x"}`)

	var s Settings
	if err := json.Unmarshal(in, &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s.MinIntervalSeconds != 5 {
		t.Errorf("MinIntervalSeconds = %d, want 5", s.MinIntervalSeconds)
	}
	if len(s.Extra) != 2 {
		t.Fatalf("Extra has %d entries, want 2", len(s.Extra))
	}

	out, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var round map[string]json.RawMessage
	if err := json.Unmarshal(out, &round); err != nil {
		t.Fatalf("round Unmarshal() error = %v", err)
	}
	if string(round["future_option"]) != `{"a":1}` {
		t.Errorf("future_option = %s, want {\"a\":1}", round["future_option"])
	}
	if string(round["another"]) != `"x"` {
		t.Errorf("another = %s, want \"x\"", round["another"])
	}
}

func TestRuleValidate(t *testing.T) {
	ok := Rule{
		ID:      "r1",
		Trigger: Trigger{Kind: TriggerEverySeconds, Seconds: 60},
		Action:  Action{Kind: ActionNotify, Recipients: []string{AddrForeman}, Text: "standup"},
		Enabled: true,
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	// group_state is only legal on at triggers.
	bad := ok
	bad.Action = Action{Kind: ActionGroupState, State: GroupPaused}
	if err := bad.Validate(); err == nil {
		t.Error("group_state on every_seconds trigger should fail")
	}

	// actor_control needs actor ids.
	bad2 := Rule{
		ID:      "r2",
		Trigger: Trigger{Kind: TriggerAt, At: ok.Trigger.At},
	}
	bad2.Trigger.At = bad2.Trigger.At.AddDate(2030, 0, 0)
	bad2.Action = Action{Kind: ActionActorControl, Op: ControlRestart}
	if err := bad2.Validate(); err == nil {
		t.Error("actor_control without actor ids should fail")
	}
}

func TestRulesetDuplicateIDs(t *testing.T) {
	rs := Ruleset{Rules: []Rule{
		{ID: "a", Trigger: Trigger{Kind: TriggerEverySeconds, Seconds: 1}, Action: Action{Kind: ActionNotify, Text: "x"}},
		{ID: "a", Trigger: Trigger{Kind: TriggerEverySeconds, Seconds: 1}, Action: Action{Kind: ActionNotify, Text: "y"}},
	}}
	if err := rs.Validate(); err == nil {
		t.Error("duplicate rule ids should fail")
	}
}

func TestErrorCodeOf(t *testing.T) {
	err := E(ErrPermissionDenied, "peer %s may not stop %s", "p1", "p2").
		WithDetail("action", "actor_stop")

	if CodeOf(err) != ErrPermissionDenied {
		t.Errorf("CodeOf() = %s, want permission_denied", CodeOf(err))
	}
	if !IsCode(err, ErrPermissionDenied) {
		t.Error("IsCode() = false, want true")
	}
	if err.Details["action"] != "actor_stop" {
		t.Errorf("detail action = %q", err.Details["action"])
	}
}

func TestValidatePayloadRejectsUnknownKind(t *testing.T) {
	if err := ValidatePayload("chat.shout", json.RawMessage(`{}`)); !IsCode(err, ErrInvalidPayload) {
		t.Errorf("unknown kind error = %v, want invalid_payload", err)
	}
}
