package mmdfstore

import (
	"context"
	"io"
)

// MessageStore reads and prunes the messages of a named mailbox. A mailbox
// name is mapped to a file by the backend; for MMDF that is one flat file
// holding every message.
type MessageStore interface {
	// List describes the messages of mailbox in file order. A mailbox that
	// does not exist yet is empty.
	List(ctx context.Context, mailbox string) ([]MessageInfo, error)

	// Retrieve returns the message with the given UID in CRLF form. The
	// caller closes the reader.
	Retrieve(ctx context.Context, mailbox string, uid string) (io.ReadCloser, error)

	// Delete marks a message. Marked messages are hidden from this store
	// and removed from the file by Expunge.
	Delete(ctx context.Context, mailbox string, uid string) error

	// Expunge removes the marked messages from the mailbox file.
	Expunge(ctx context.Context, mailbox string) error

	// Stat returns the number of visible messages and the sum of their
	// sizes.
	Stat(ctx context.Context, mailbox string) (count int, totalBytes int64, err error)
}

// MessageInfo describes one message of a mailbox.
type MessageInfo struct {
	// UID is the decimal unique identifier, stable within a UID validity
	// epoch.
	UID string

	// Size counts CRLF line ends, matching what Retrieve returns.
	Size int64

	// Flags holds the IMAP system flags (`\Seen`, `\Deleted`...) and then
	// the keywords set on the message.
	Flags []string
}
