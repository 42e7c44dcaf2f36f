package runner

import (
	"reflect"
	"strings"
	"testing"

	"github.com/cccc-dev/cccc/pkg/types"
)

func TestTranscriptRingDropsOldest(t *testing.T) {
	tr := NewTranscript(10)
	tr.Write([]byte("0123456789"))
	tr.Write([]byte("abcde"))

	if got := tr.Len(); got != 10 {
		t.Fatalf("Len() = %d, want 10", got)
	}
	lines := tr.Tail(0, false)
	if len(lines) != 1 || lines[0] != "56789abcde" {
		t.Errorf("Tail() = %v, want [56789abcde]", lines)
	}
}

func TestTranscriptTailLines(t *testing.T) {
	tr := NewTranscript(1024)
	tr.Write([]byte("one\ntwo\r\nthree\n"))

	got := tr.Tail(2, false)
	want := []string{"two", "three"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tail(2) = %v, want %v", got, want)
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"\x1b[31mred\x1b[0m", "red"},
		{"\x1b[2J\x1b[Hcleared", "cleared"},
		{"\x1b]0;title\x07body", "body"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := StripANSI(tt.in); got != tt.want {
			t.Errorf("StripANSI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRenderInjectionHeader(t *testing.T) {
	out := RenderInjection([]InjectionItem{{
		EventID:  "e-0000000042",
		From:     "user",
		ReplyTo:  "e-0000000040",
		Priority: types.PriorityAttention,
		Text:     "ship it",
	}})

	want := "[cccc] from=user id=e-0000000042 reply_to=e-0000000040 priority=attention\nship it\n"
	if out != want {
		t.Errorf("RenderInjection() = %q, want %q", out, want)
	}
}

func TestRenderInjectionDigest(t *testing.T) {
	out := RenderInjection([]InjectionItem{
		{EventID: "e-0000000001", From: "user", Text: "first"},
		{EventID: "e-0000000002", From: "alpha", Text: "second"},
	})

	if !strings.HasPrefix(out, "[cccc] digest count=2\n") {
		t.Errorf("digest banner missing: %q", out)
	}
	for _, frag := range []string{
		"[cccc] from=user id=e-0000000001 priority=normal\nfirst\n",
		"[cccc] from=alpha id=e-0000000002 priority=normal\nsecond\n",
	} {
		if !strings.Contains(out, frag) {
			t.Errorf("digest missing %q in %q", frag, out)
		}
	}
}
