package runner

import (
	"fmt"
	"strings"

	"github.com/cccc-dev/cccc/pkg/types"
)

// InjectionItem is one chat event rendered into a PTY injection.
type InjectionItem struct {
	EventID  string
	From     string
	ReplyTo  string
	Priority types.Priority
	Text     string
}

// RenderInjection renders one or more chat events into the text pushed
// into an agent's terminal. The header line is a stable structured
// format agents parse:
//
//	[cccc] from=<by> id=<event> reply_to=<id> priority=<p>
//
// Multiple items (a coalesced digest) repeat the header per item under
// one digest banner.
func RenderInjection(items []InjectionItem) string {
	var b strings.Builder
	if len(items) > 1 {
		fmt.Fprintf(&b, "[cccc] digest count=%d\n", len(items))
	}
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[cccc] from=%s id=%s", it.From, it.EventID)
		if it.ReplyTo != "" {
			fmt.Fprintf(&b, " reply_to=%s", it.ReplyTo)
		}
		p := it.Priority
		if p == "" {
			p = types.PriorityNormal
		}
		fmt.Fprintf(&b, " priority=%s\n", p)
		b.WriteString(it.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
