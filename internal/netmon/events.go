package netmon

type EventType string

const (
	// LinkIn: the interface started running; the hook gets "in".
	LinkIn EventType = "in"
	// LinkOut: the interface stopped running; the hook gets "out".
	LinkOut EventType = "out"
	// LinkReprobe: the interface went administratively down and a
	// reactivation was attempted.
	LinkReprobe EventType = "reprobe"
)

// LinkEvent is one decision taken by the Engine.
type LinkEvent struct {
	Type          EventType `json:"type"`
	InterfaceName string    `json:"interface"`
	Index         int32     `json:"index"`
	OldFlags      uint32    `json:"oldFlags"`
	NewFlags      uint32    `json:"newFlags"`
	// Error is set on a LinkReprobe whose reactivation failed.
	Error string `json:"error,omitempty"`
}

type EventHandler func(event LinkEvent)

// HookDispatcher runs the operator hook for an interface. Invoke must not
// block on the hook's completion.
type HookDispatcher interface {
	Invoke(name string, verb string)
}

// Reprober tries to bring a downed interface back up. A nil error means
// success.
type Reprober interface {
	Probe(name string) error
}
