package mmdf

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/infodancer/mmdfstore/errors"
)

// AppendMessage is a message to add to a mailbox.
type AppendMessage struct {
	Flags    Flags
	Keywords []string
	// Date is the internal date. Zero means now.
	Date time.Time
	// Body is the full message, header and text, with LF or CRLF line ends.
	Body []byte
}

// Append adds msgs to the end of the mailbox at path under an exclusive
// lock. Either all messages are added or, on failure, the file is cut back
// to its old size. Keyword names that are not in the keyword table of the
// mailbox are dropped when the mailbox is next opened.
func Append(path string, opts Options, msgs ...AppendMessage) error {
	opts = opts.withDefaults()
	err := appendMessages(path, opts, msgs)
	metricAppend.WithLabelValues("append", resultLabel(err)).Inc()
	return err
}

func appendMessages(path string, opts Options, msgs []AppendMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	var table keywordTable
	var data []byte
	for _, am := range msgs {
		if len(am.Body) == 0 {
			return errors.ErrEmptyMessage
		}
		date := am.Date
		if date.IsZero() {
			date = opts.Now()
		}
		// Names go into X-Keywords as given; a private table maps them.
		kw, err := table.mask(am.Keywords, true)
		if err != nil {
			return err
		}
		data = append(data, sentinel...)
		data = append(data, envelopeLine(opts.User, opts.Host, date)...)
		data = appendNewStatus(data, am.Flags, table.keywordNames(kw))
		data = appendText(data, am.Body)
		data = append(data, sentinel...)
	}
	if err := Validate(path); err != nil {
		return err
	}
	return writeTail(path, opts, data)
}

// appendNewStatus renders the pseudo-header of a delivered message. The
// message is left recent, so the Status line carries no O.
func appendNewStatus(dst []byte, flags Flags, keywords []string) []byte {
	dst = append(dst, "Status: "...)
	if flags&FlagSeen != 0 {
		dst = append(dst, 'R')
	}
	dst = append(dst, "\nX-Status: "...)
	if flags&FlagDeleted != 0 {
		dst = append(dst, 'D')
	}
	if flags&FlagFlagged != 0 {
		dst = append(dst, 'F')
	}
	if flags&FlagAnswered != 0 {
		dst = append(dst, 'A')
	}
	if flags&FlagDraft != 0 {
		dst = append(dst, 'T')
	}
	dst = append(dst, "\nX-Keywords:"...)
	for _, kw := range keywords {
		dst = append(dst, ' ')
		dst = append(dst, kw...)
	}
	return append(dst, '\n')
}

// appendText copies a message with CTRL-A dropped and CRLF folded to LF,
// ending it with a newline.
func appendText(dst, body []byte) []byte {
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case c == sentinelChar:
		case c == '\r' && i+1 < len(body) && body[i+1] == '\n':
		default:
			dst = append(dst, c)
		}
	}
	if n := len(dst); n == 0 || dst[n-1] != '\n' {
		dst = append(dst, '\n')
	}
	return dst
}

// writeTail appends data to the mailbox at path under an exclusive lock.
// The access time is kept and the modification time set to now, so that
// new-mail checkers see new mail. On failure the file is truncated back
// and both times restored.
func writeTail(path string, opts Options, data []byte) error {
	cl, err := lockFile(path, os.O_WRONLY|os.O_APPEND, 0, unix.LOCK_EX, opts.DotLock, opts.Logger)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.ErrMailboxNotFound
		}
		return fmt.Errorf("lock mailbox: %w", err)
	}
	defer func() { _ = cl.close() }()

	fi, err := cl.f.Stat()
	if err != nil {
		return fmt.Errorf("stat mailbox: %w", err)
	}
	size := fi.Size()
	atime, mtime, err := fileTimes(cl.f)
	if err != nil {
		return fmt.Errorf("stat mailbox: %w", err)
	}

	if _, err = cl.f.Write(data); err == nil {
		err = cl.f.Sync()
	}
	if err != nil {
		opts.Logger.Error("message append failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		_ = cl.f.Truncate(size)
		_ = os.Chtimes(path, atime, mtime)
		return fmt.Errorf("%w: append: %v", errors.ErrDiskFailure, err)
	}
	_ = os.Chtimes(path, atime, opts.Now())
	return nil
}

// Append adds msgs to this mailbox and makes them visible. Keywords missing
// from the keyword table are created.
func (s *Store) Append(msgs ...AppendMessage) error {
	if err := s.writable(); err != nil {
		return err
	}
	before := s.keywords
	for _, am := range msgs {
		if _, err := s.keywords.mask(am.Keywords, true); err != nil {
			s.keywords = before
			return err
		}
	}
	if s.keywords != before {
		s.dirty = true
	}
	if err := Append(s.path, s.opts, msgs...); err != nil {
		return err
	}
	return s.Ping()
}
