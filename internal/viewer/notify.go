package viewer

import (
	"fmt"
	"log"
)

// Failure describes one terminally failed operation inside a notice.
type Failure struct {
	AnnotationID string
	Kind         OpKind
	// Permanent distinguishes client errors (not-found, validation) from
	// exhausted transient retries; the user-facing wording differs.
	Permanent bool
	Message   string
}

// Notice is the single user-facing notification for one batch of failures.
// The UI layer offers retry-all / discard-all on it; both map to the
// coordinator methods of the same name.
type Notice struct {
	Failures []Failure
}

// Summary renders the one-line message shown to the user.
func (n Notice) Summary() string {
	if len(n.Failures) == 0 {
		return ""
	}
	if len(n.Failures) == 1 {
		f := n.Failures[0]
		if f.Permanent {
			return fmt.Sprintf("Could not %s annotation: feature unavailable.", f.Kind)
		}
		return fmt.Sprintf("Could not %s annotation: server error, please retry.", f.Kind)
	}
	return fmt.Sprintf("%d annotation changes failed. Retry all or discard all.", len(n.Failures))
}

// Notifier receives failure notices. Implementations must not block; the
// coordinator calls Notify from a background goroutine.
type Notifier interface {
	Notify(Notice)
}

// LogNotifier is the default sink when the host UI wires nothing in.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notice) {
	log.Printf("sync: %s (%d failure(s))", n.Summary(), len(n.Failures))
}
