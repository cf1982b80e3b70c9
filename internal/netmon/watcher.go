package netmon

import "context"

// MessageHandler consumes one link message. A returned error stops the
// watcher and is handed back to its caller.
type MessageHandler func(LinkMessage) error

// Watcher is the source of link messages.
type Watcher interface {
	// Dump enumerates every existing interface, calling handle for each
	// reply, and returns once the enumeration is complete. Notifications
	// that arrive meanwhile are held back for Listen.
	Dump(ctx context.Context, handle MessageHandler) error

	// Listen delivers live notifications in order, starting with any held
	// back during Dump. Blocks until ctx is cancelled or an error occurs.
	Listen(ctx context.Context, handle MessageHandler) error

	Close() error
}
