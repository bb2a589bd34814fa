package mmdf

import (
	stderrors "errors"
	"log/slog"
	"os"
	"os/user"
	"time"

	"golang.org/x/sys/unix"
)

const (
	defaultRetries    = 15
	defaultRetryDelay = time.Second
)

// Notifier receives the changes of the visible message list. Message
// numbers are 1-based and refer to the list as it is when the call is made.
type Notifier interface {
	// NewMessage is called for each message that becomes visible.
	NewMessage(msgno int)
	// Expunged is called when a message is removed. Later messages move
	// down by one.
	Expunged(msgno int)
	// FlagsChanged is called when the flags of a message changed.
	FlagsChanged(msgno int)
}

// DiskErrorHandler is consulted when a write to the mailbox fails. While the
// mailbox is being extended fatal is false, and returning false abandons the
// rewrite with the file as it was. Once the mailbox is partially rewritten
// fatal is true; the write is then retried whatever the handler returns, so
// a handler should wait for the condition to clear before returning.
type DiskErrorHandler func(err error, fatal bool) (retry bool)

// Relinquisher asks the process holding write access to give it up.
type Relinquisher interface {
	Relinquish(pid int) error
}

// SignalRelinquisher sends SIGUSR2, which [ListenRelinquish] turns into a
// read-only request.
type SignalRelinquisher struct{}

func (SignalRelinquisher) Relinquish(pid int) error {
	return unix.Kill(pid, unix.SIGUSR2)
}

// Options configure how a mailbox is opened.
type Options struct {
	// ReadOnly opens without asking for write access.
	ReadOnly bool

	// Silent suppresses informational logging. A silent open does not
	// ask another process to give up write access, and a silent read-write
	// open fails with ErrMailboxLocked instead of degrading to read-only.
	Silent bool

	// LockDir holds the marker lock files. Defaults to os.TempDir().
	LockDir string

	// DotLock enables <mailbox>.lock files next to the mailbox.
	DotLock bool

	// Retries is the number of attempts to get the marker lock.
	Retries int

	// RetryDelay is the wait between marker lock attempts.
	RetryDelay time.Duration

	// User and Host appear in the envelope line of appended messages and
	// in the placeholder record.
	User string
	Host string

	// DefaultKeywords seeds the keyword table of new mailboxes.
	DefaultKeywords []string

	Logger       *slog.Logger
	Notifier     Notifier
	DiskError    DiskErrorHandler
	Relinquisher Relinquisher

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.LockDir == "" {
		o.LockDir = os.TempDir()
	}
	if o.Retries <= 0 {
		o.Retries = defaultRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Host == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			o.Host = h
		} else {
			o.Host = "localhost"
		}
	}
	if o.User == "" {
		if u, err := user.Current(); err == nil {
			o.User = u.Username
		} else {
			o.User = "unknown"
		}
	}
	if o.Relinquisher == nil {
		o.Relinquisher = SignalRelinquisher{}
	}
	if o.DiskError == nil {
		logger, delay := o.Logger, o.RetryDelay
		o.DiskError = func(err error, fatal bool) bool {
			logger.Error("mailbox write failed, retrying",
				slog.String("error", err.Error()),
				slog.Bool("disk_full", diskFull(err)),
				slog.Bool("fatal", fatal))
			time.Sleep(delay)
			return true
		}
	}
	return o
}

// diskFull reports whether err means the file system or the user's quota
// has no room left.
func diskFull(err error) bool {
	return stderrors.Is(err, unix.ENOSPC) || stderrors.Is(err, unix.EDQUOT)
}
