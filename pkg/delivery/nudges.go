package delivery

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/cccc-dev/cccc/pkg/log"
	"github.com/cccc-dev/cccc/pkg/metrics"
	"github.com/cccc-dev/cccc/pkg/runner"
	"github.com/cccc-dev/cccc/pkg/types"
)

// pendingNudge accumulates one recipient's reasons within a tick before
// the digest gate coalesces them into a single system.notify.
type pendingNudge struct {
	reasons  []string
	eventIDs []string
	seen     map[string]bool
}

func (pn *pendingNudge) add(reason string, eventIDs ...string) {
	if pn.seen == nil {
		pn.seen = make(map[string]bool)
	}
	if !pn.seen[reason] {
		pn.seen[reason] = true
		pn.reasons = append(pn.reasons, reason)
	}
	pn.eventIDs = append(pn.eventIDs, eventIDs...)
}

// runNudges evaluates the built-in policies for one group, in fixed
// order, then emits at most one coalesced notify per recipient.
func (e *Engine) runNudges(g *types.Group, now time.Time) {
	if g.State == types.GroupStopped {
		return
	}
	s := g.Settings
	pending := make(map[string]*pendingNudge)
	collect := func(recipient, reason string, eventIDs ...string) {
		if recipient == "" || recipient == types.AddrUser {
			return
		}
		pn := pending[recipient]
		if pn == nil {
			pn = &pendingNudge{}
			pending[recipient] = pn
		}
		pn.add(reason, eventIDs...)
	}

	proj := e.cfg.Projection
	actors := proj.Actors(g.ID)
	var foremanID string
	for _, a := range actors {
		if a.Role == types.RoleForeman {
			foremanID = a.ID
		}
	}

	// Unread: recipient has unread messages older than the threshold.
	if s.UnreadNudgeAfterSeconds > 0 {
		cutoff := now.Add(-time.Duration(s.UnreadNudgeAfterSeconds) * time.Second)
		for _, a := range actors {
			for _, item := range proj.Inbox(g.ID, a.ID, 0) {
				if item.TS.Before(cutoff) {
					collect(a.ID, types.ReasonUnread, item.EventID)
				}
			}
		}
	}

	// Reply-required: obligation unsatisfied past the threshold.
	if s.ReplyRequiredNudgeAfterSeconds > 0 {
		cutoff := now.Add(-time.Duration(s.ReplyRequiredNudgeAfterSeconds) * time.Second)
		for _, ob := range proj.PendingReplies(g.ID) {
			if !ob.Since.IsZero() && ob.Since.Before(cutoff) {
				collect(ob.Recipient, types.ReasonReplyRequired, ob.EventID)
			}
		}
	}

	// Attention-ack: attention message unacked past the threshold.
	if s.AttentionAckNudgeAfterSeconds > 0 {
		cutoff := now.Add(-time.Duration(s.AttentionAckNudgeAfterSeconds) * time.Second)
		for _, ob := range proj.PendingAcks(g.ID) {
			if !ob.Since.IsZero() && ob.Since.Before(cutoff) {
				collect(ob.Recipient, types.ReasonAttentionAck, ob.EventID)
			}
		}
	}

	// Actor-idle: a running PTY actor produced no output for the
	// threshold.
	if s.ActorIdleTimeoutSeconds > 0 {
		cutoff := now.Add(-time.Duration(s.ActorIdleTimeoutSeconds) * time.Second)
		for _, a := range actors {
			if a.Runner != types.RunnerPTY {
				continue
			}
			if e.cfg.Supervisor.State(g.ID, a.ID) != runner.StateRunning {
				continue
			}
			if last := e.cfg.Supervisor.LastOutputAt(g.ID, a.ID); !last.IsZero() && last.Before(cutoff) {
				collect(a.ID, types.ReasonActorIdle)
			}
		}
	}

	e.mu.Lock()
	gd := e.group(g.ID)

	// Keepalive: the foreman heard nothing for the delay, capped per
	// actor; the counter resets on real inbound traffic.
	if s.KeepaliveDelaySeconds > 0 && foremanID != "" {
		cutoff := now.Add(-time.Duration(s.KeepaliveDelaySeconds) * time.Second)
		last := gd.lastInbound[foremanID]
		if last.IsZero() {
			last = proj.LastChatAt(g.ID)
		}
		if !last.IsZero() && last.Before(cutoff) &&
			(s.KeepaliveMaxPerActor <= 0 || gd.keepalives[foremanID] < s.KeepaliveMaxPerActor) {
			gd.keepalives[foremanID]++
			// lastInbound advances so the next keepalive waits a full
			// delay rather than firing every tick.
			gd.lastInbound[foremanID] = now
			collect(foremanID, types.ReasonKeepalive)
		}
	}

	// Silence: the whole group produced no chat for the threshold;
	// group-level, so it targets the foreman.
	if s.SilenceTimeoutSeconds > 0 && foremanID != "" {
		cutoff := now.Add(-time.Duration(s.SilenceTimeoutSeconds) * time.Second)
		if last := proj.LastChatAt(g.ID); !last.IsZero() && last.Before(cutoff) {
			collect(foremanID, types.ReasonSilence)
		}
	}

	// Help: an actor processed enough messages without asking for help.
	if s.HelpNudgeIntervalSeconds > 0 && s.HelpNudgeMinMessages > 0 {
		cutoff := now.Add(-time.Duration(s.HelpNudgeIntervalSeconds) * time.Second)
		for _, a := range actors {
			processed := proj.InboundCount(g.ID, a.ID) - gd.helpBase[a.ID]
			lastAt := gd.lastHelpAt[a.ID]
			if processed >= s.HelpNudgeMinMessages && (lastAt.IsZero() || lastAt.Before(cutoff)) {
				gd.helpBase[a.ID] = proj.InboundCount(g.ID, a.ID)
				gd.lastHelpAt[a.ID] = now
				collect(a.ID, types.ReasonHelp)
			}
		}
	}
	e.mu.Unlock()

	e.emitNudges(g, gd, pending, now)
}

// emitNudges applies the digest gate and repeat caps, then commits one
// system.notify per eligible recipient with every reason listed.
func (e *Engine) emitNudges(g *types.Group, gd *groupDelivery, pending map[string]*pendingNudge, now time.Time) {
	s := g.Settings
	digest := time.Duration(s.NudgeDigestMinIntervalSeconds) * time.Second

	recipients := make([]string, 0, len(pending))
	for r := range pending {
		recipients = append(recipients, r)
	}
	sort.Strings(recipients)

	for _, recipient := range recipients {
		pn := pending[recipient]

		e.mu.Lock()
		if digest > 0 {
			if last, ok := gd.lastDigest[recipient]; ok && now.Sub(last) < digest {
				e.mu.Unlock()
				continue
			}
		}

		// Drop reasons that exhausted their repeat budget; escalate the
		// notify once any reason has repeated enough.
		escalate := false
		kept := pn.reasons[:0]
		for _, reason := range pn.reasons {
			key := recipient + "|" + reason
			if s.NudgeMaxRepeatsPerObligation > 0 && gd.repeats[key] >= s.NudgeMaxRepeatsPerObligation {
				continue
			}
			gd.repeats[key]++
			if s.NudgeEscalateAfterRepeats > 0 && gd.repeats[key] >= s.NudgeEscalateAfterRepeats {
				escalate = true
			}
			kept = append(kept, reason)
		}
		if len(kept) == 0 {
			e.mu.Unlock()
			continue
		}
		gd.lastDigest[recipient] = now
		e.mu.Unlock()

		notify := types.SystemNotify{
			Reasons:  kept,
			Target:   recipient,
			EventIDs: dedupe(pn.eventIDs),
		}
		if escalate {
			notify.Priority = types.PriorityAttention
		}
		data, err := json.Marshal(notify)
		if err != nil {
			continue
		}
		if _, err := e.cfg.Commit(g.ID, types.KindSystemNotify, types.ByDaemon, data); err != nil {
			lg := log.WithGroupID(g.ID)
			lg.Warn().Err(err).Str("target", recipient).Msg("failed to commit nudge")
			continue
		}
		for _, reason := range notify.Reasons {
			metrics.IncNudge(reason)
		}
	}
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
