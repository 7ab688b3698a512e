// Package announce implements the Announcer: the external sink (spec §6)
// to which exactly-one elected death/recovery message is sent. It mirrors
// the teacher's per-backend Notifier shape (notify/telegram,
// notify/log) collapsed to the two modes this spec names.
package announce

import (
	"context"
	"fmt"
)

// Kind distinguishes the two fixed message templates (spec §6).
type Kind int

const (
	// Death is emitted when this node wins the election for a peer's death.
	Death Kind = iota
	// Recovery is emitted when a peer this node had announced dead comes
	// back up.
	Recovery
)

// Event is one announcement this node has taken responsibility for.
type Event struct {
	Kind   Kind
	Target string
	Me     string
	Handle string // optional Telegram handle of Target, "" if none.
}

// Announcer sends one rendered Event to the external sink.
type Announcer interface {
	Announce(ctx context.Context, ev Event) error
}

// Render formats ev using the exact templates spec §6 specifies:
//
//	Death:    "Grid announcement, `{target}` has unfortunately died, announced by: `{me}`[ - @{handle}]"
//	Recovery: "Grid announcement, `{target}` has fortunately RETURNED, announced by: `{me}`[ - @{handle}]"
//
// The "@{handle}" suffix is appended iff Handle is non-empty.
func Render(ev Event) string {
	var verb string
	switch ev.Kind {
	case Death:
		verb = "has unfortunately died"
	case Recovery:
		verb = "has fortunately RETURNED"
	}

	msg := fmt.Sprintf("Grid announcement, `%s` %s, announced by: `%s`", ev.Target, verb, ev.Me)
	if ev.Handle != "" {
		msg += " - @" + ev.Handle
	}
	return msg
}
