package kernel

import (
	"testing"

	"github.com/cccc-dev/cccc/pkg/types"
)

func permissionFixture(t *testing.T) (*Projection, *feed) {
	t.Helper()
	p, f := setupGroup(t)
	f.addActor("g1", "boss", true) // promoted foreman
	f.addActor("g1", "worker", true)
	f.addActor("g1", "other", true)
	return p, f
}

func TestPermissionMatrix(t *testing.T) {
	p, _ := permissionFixture(t)

	tests := []struct {
		name      string
		principal string
		action    Action
		target    string
		wantCode  types.ErrorCode // "" means allowed
	}{
		{"user may delete group", types.ByUser, ActionGroupDelete, "", ""},
		{"user may stop any actor", types.ByUser, ActionActorStop, "worker", ""},
		{"foreman may manage actors", "boss", ActionActorStop, "worker", ""},
		{"foreman may update settings", "boss", ActionGroupSettingsUpdate, "", ""},
		{"foreman may update automation", "boss", ActionGroupAutomationUpdate, "", ""},
		{"foreman may not delete group", "boss", ActionGroupDelete, "", types.ErrPermissionDenied},
		{"peer may send messages", "worker", ActionMessageSend, "", ""},
		{"peer may ack", "worker", ActionMessageAck, "", ""},
		{"peer may mark read", "worker", ActionInboxMarkRead, "", ""},
		{"peer may stop itself", "worker", ActionActorStop, "worker", ""},
		{"peer may restart itself", "worker", ActionActorRestart, "worker", ""},
		{"peer may remove itself", "worker", ActionActorRemove, "worker", ""},
		{"peer may not stop another actor", "worker", ActionActorStop, "other", types.ErrPermissionDenied},
		{"peer may not add actors", "worker", ActionActorAdd, "new", types.ErrPermissionDenied},
		{"peer may not update settings", "worker", ActionGroupSettingsUpdate, "", types.ErrPermissionDenied},
		{"peer may not update automation", "worker", ActionGroupAutomationUpdate, "", types.ErrPermissionDenied},
		{"peer may not change group state", "worker", ActionGroupSetState, "", types.ErrPermissionDenied},
		{"automation acts freely", types.ByAutomation, ActionGroupSetState, "", ""},
		{"unknown principal rejected", "ghost", ActionMessageSend, "", types.ErrNoSuchActor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Check("g1", tt.principal, tt.action, tt.target)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("Check() = %v, want allowed", err)
				}
				return
			}
			if !types.IsCode(err, tt.wantCode) {
				t.Errorf("Check() code = %v, want %s", types.CodeOf(err), tt.wantCode)
			}
		})
	}
}

func TestPermissionDenialDetails(t *testing.T) {
	p, _ := permissionFixture(t)

	err := p.Check("g1", "worker", ActionActorStop, "other")
	te := types.AsError(err)
	if te.Details["principal"] != "worker" {
		t.Errorf("details principal = %q, want worker", te.Details["principal"])
	}
	if te.Details["action"] != "actor_stop" {
		t.Errorf("details action = %q, want actor_stop", te.Details["action"])
	}
}

func TestStoppedGroupGates(t *testing.T) {
	p, f := permissionFixture(t)
	f.apply("g1", types.KindGroupStop, types.ByUser, nil)

	tests := []struct {
		name      string
		principal string
		action    Action
		wantCode  types.ErrorCode
	}{
		{"actor start blocked", types.ByUser, ActionActorStart, types.ErrGroupStopped},
		{"settings update blocked", types.ByUser, ActionGroupSettingsUpdate, types.ErrGroupStopped},
		{"automation update blocked", "boss", ActionGroupAutomationUpdate, types.ErrGroupStopped},
		{"user send allowed", types.ByUser, ActionMessageSend, ""},
		{"actor send blocked", "worker", ActionMessageSend, types.ErrGroupStopped},
		{"mark read allowed", "worker", ActionInboxMarkRead, ""},
		{"group start allowed to wake", types.ByUser, ActionGroupStart, ""},
		{"set state allowed to leave stopped", types.ByUser, ActionGroupSetState, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.CheckState("g1", tt.principal, tt.action)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("CheckState() = %v, want allowed", err)
				}
				return
			}
			if !types.IsCode(err, tt.wantCode) {
				t.Errorf("CheckState() code = %v, want %s", types.CodeOf(err), tt.wantCode)
			}
		})
	}
}

func TestPausedGroupNotGated(t *testing.T) {
	p, f := permissionFixture(t)
	f.apply("g1", types.KindGroupSetState, types.ByUser, types.GroupSetStateData{State: types.GroupPaused})

	// Paused suspends delivery fan-out only; mutations pass the gate.
	for _, action := range []Action{ActionMessageSend, ActionActorStart, ActionGroupSettingsUpdate} {
		if err := p.CheckState("g1", types.ByUser, action); err != nil {
			t.Errorf("CheckState(paused, %s) = %v, want allowed", action, err)
		}
	}
}
