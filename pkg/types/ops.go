package types

// Payload shapes for lifecycle event kinds. Chat payloads live in
// types.go next to their validation.

// GroupCreateData is the payload of a group.create event.
type GroupCreateData struct {
	Title    string    `json:"title,omitempty"`
	Topic    string    `json:"topic,omitempty"`
	Settings *Settings `json:"settings,omitempty"`
}

// GroupUpdateData is the payload of a group.update event. Nil fields
// are left unchanged; ClearIMBinding removes an existing binding.
type GroupUpdateData struct {
	Title          *string    `json:"title,omitempty"`
	Topic          *string    `json:"topic,omitempty"`
	IMBinding      *IMBinding `json:"im_binding,omitempty"`
	ClearIMBinding bool       `json:"clear_im_binding,omitempty"`
}

// GroupSetStateData is the payload of a group.set_state event.
type GroupSetStateData struct {
	State GroupState `json:"state"`
}

// ScopeDetachData is the payload of a group.detach event.
type ScopeDetachData struct {
	Key string `json:"key"`
}

// ActorRefData is the payload of actor.start/stop/restart/remove
// events. Reason is set on crash-driven stops.
type ActorRefData struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// ActorUpdateData is the payload of an actor.update event. Nil or empty
// fields are left unchanged.
type ActorUpdateData struct {
	ID      string         `json:"id"`
	Enabled *bool          `json:"enabled,omitempty"`
	Command []string       `json:"command,omitempty"`
	Runtime string         `json:"runtime,omitempty"`
	Profile string         `json:"profile,omitempty"`
	Status  HeadlessStatus `json:"status,omitempty"`
}
