package types

import "encoding/json"

// SendTarget selects where a bare send (no to list override) goes.
type SendTarget string

const (
	SendToForeman   SendTarget = "foreman"
	SendToBroadcast SendTarget = "broadcast"
)

// TranscriptVisibility controls who may read an actor's terminal tail.
type TranscriptVisibility string

const (
	TranscriptOff     TranscriptVisibility = "off"
	TranscriptForeman TranscriptVisibility = "foreman"
	TranscriptAll     TranscriptVisibility = "all"
)

// Settings holds the per-group options the delivery and automation
// engines consult. Unknown fields survive a settings round-trip via
// Extra so newer daemons can hand groups back to older ones.
type Settings struct {
	MinIntervalSeconds int        `json:"min_interval_seconds,omitempty"`
	AutoMarkOnDelivery bool       `json:"auto_mark_on_delivery,omitempty"`
	DefaultSendTo      SendTarget `json:"default_send_to,omitempty"`

	// Nudge thresholds, all in seconds.
	NudgeAfterSeconds              int `json:"nudge_after_seconds,omitempty"`
	ReplyRequiredNudgeAfterSeconds int `json:"reply_required_nudge_after_seconds,omitempty"`
	AttentionAckNudgeAfterSeconds  int `json:"attention_ack_nudge_after_seconds,omitempty"`
	UnreadNudgeAfterSeconds        int `json:"unread_nudge_after_seconds,omitempty"`
	NudgeDigestMinIntervalSeconds  int `json:"nudge_digest_min_interval_seconds,omitempty"`
	NudgeMaxRepeatsPerObligation   int `json:"nudge_max_repeats_per_obligation,omitempty"`
	NudgeEscalateAfterRepeats      int `json:"nudge_escalate_after_repeats,omitempty"`
	ActorIdleTimeoutSeconds        int `json:"actor_idle_timeout_seconds,omitempty"`
	KeepaliveDelaySeconds          int `json:"keepalive_delay_seconds,omitempty"`
	KeepaliveMaxPerActor           int `json:"keepalive_max_per_actor,omitempty"`
	SilenceTimeoutSeconds          int `json:"silence_timeout_seconds,omitempty"`
	HelpNudgeIntervalSeconds       int `json:"help_nudge_interval_seconds,omitempty"`
	HelpNudgeMinMessages           int `json:"help_nudge_min_messages,omitempty"`

	TerminalTranscriptVisibility  TranscriptVisibility `json:"terminal_transcript_visibility,omitempty"`
	TerminalTranscriptNotifyTail  bool                 `json:"terminal_transcript_notify_tail,omitempty"`
	TerminalTranscriptNotifyLines int                  `json:"terminal_transcript_notify_lines,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// DefaultSettings returns the per-group defaults.
func DefaultSettings() Settings {
	return Settings{
		DefaultSendTo:                  SendToForeman,
		UnreadNudgeAfterSeconds:        900,
		ReplyRequiredNudgeAfterSeconds: 300,
		AttentionAckNudgeAfterSeconds:  600,
		ActorIdleTimeoutSeconds:        600,
		KeepaliveDelaySeconds:          120,
		KeepaliveMaxPerActor:           3,
		SilenceTimeoutSeconds:          600,
		HelpNudgeIntervalSeconds:       600,
		HelpNudgeMinMessages:           10,
		NudgeDigestMinIntervalSeconds:  120,
		NudgeMaxRepeatsPerObligation:   5,
		NudgeEscalateAfterRepeats:      3,
		TerminalTranscriptVisibility:   TranscriptForeman,
		TerminalTranscriptNotifyLines:  20,
	}
}

// settingsAlias avoids recursion in the custom JSON round-trip below.
type settingsAlias Settings

// UnmarshalJSON keeps unrecognized fields in Extra instead of dropping
// them.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var known settingsAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range settingsFieldNames {
		delete(all, k)
	}
	known.Extra = nil
	*s = Settings(known)
	if len(all) > 0 {
		s.Extra = all
	}
	return nil
}

// MarshalJSON re-emits Extra alongside the known fields.
func (s Settings) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(settingsAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

var settingsFieldNames = []string{
	"min_interval_seconds", "auto_mark_on_delivery", "default_send_to",
	"nudge_after_seconds", "reply_required_nudge_after_seconds",
	"attention_ack_nudge_after_seconds", "unread_nudge_after_seconds",
	"nudge_digest_min_interval_seconds", "nudge_max_repeats_per_obligation",
	"nudge_escalate_after_repeats", "actor_idle_timeout_seconds",
	"keepalive_delay_seconds", "keepalive_max_per_actor",
	"silence_timeout_seconds", "help_nudge_interval_seconds",
	"help_nudge_min_messages", "terminal_transcript_visibility",
	"terminal_transcript_notify_tail", "terminal_transcript_notify_lines",
}

// GlobalConfig is the daemon-wide configuration stored at
// <home>/config.json.
type GlobalConfig struct {
	DeveloperMode           bool   `json:"developer_mode,omitempty"`
	LogLevel                string `json:"log_level,omitempty"`
	TranscriptPerActorBytes int    `json:"terminal_transcript_per_actor_bytes,omitempty"`
	TerminalScrollbackLines int    `json:"terminal_ui_scrollback_lines,omitempty"`
	AuthToken               string `json:"auth_token,omitempty"`
}

// DefaultGlobalConfig returns the daemon-wide defaults.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		LogLevel:                "INFO",
		TranscriptPerActorBytes: 256 * 1024,
		TerminalScrollbackLines: 2000,
	}
}
