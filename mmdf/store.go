package mmdf

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/infodancer/mmdfstore/errors"
)

// message is the index entry of one record. Offsets are file offsets;
// the header starts internalSize bytes after offset, the text
// internalSize+headerSize bytes after offset.
type message struct {
	uid      uint32
	flags    Flags
	keywords uint32
	date     time.Time

	offset       int64 // leading sentinel
	internalSize int64 // sentinel and envelope line
	headerSize   int64 // raw header including pseudo-header and blank line
	textSize     int64 // body up to the trailing sentinel
	filtered     int64 // visible header lines in LF form, blank line excluded
	size         int64 // message size with CRLF line ends

	dirty        bool // pseudo-header on disk does not match
	unterminated bool // the file ended before the trailing sentinel
}

func (m *message) textOffset() int64 {
	return m.offset + m.internalSize + m.headerSize
}

// MessageInfo describes a visible message.
type MessageInfo struct {
	Num      int
	UID      uint32
	Flags    Flags
	Keywords []string
	Date     time.Time
	Size     int64
}

// Store is an open MMDF mailbox.
type Store struct {
	path string
	opts Options
	log  *slog.Logger

	lock   *contentLock // descriptor of the last parse
	marker *markerLock  // nil when read-only
	closed bool

	msgs     []*message
	base     uidBase
	keywords keywordTable
	recent   int
	pseudo   bool // the file starts with a placeholder record
	dirty    bool

	fileSize int64
	fileTime time.Time

	readOnlyRequested atomic.Bool

	// fileHook wraps the descriptor used by rewrites, for tests.
	fileHook func(rewriteFile) rewriteFile
}

// Open opens the mailbox at path. Without write access the store is opened
// read-only unless opts.Silent is set, in which case ErrMailboxLocked is
// returned.
func Open(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	if err := Validate(path); err != nil {
		return nil, err
	}
	s := &Store{
		path: path,
		opts: opts,
		log:  opts.Logger.With(slog.String("mailbox", path)),
	}

	if !opts.ReadOnly {
		m, err := acquireMarker(path, opts)
		if err != nil {
			return nil, fmt.Errorf("marker lock: %w", err)
		}
		s.marker = m
	}
	if s.marker != nil {
		if err := unix.Access(path, unix.W_OK); err == unix.EACCES {
			s.log.Warn("can't get write access to mailbox, access is readonly")
			s.marker.release()
			s.marker = nil
		}
	}
	if opts.Silent && !opts.ReadOnly && s.marker == nil {
		metricLockContention.WithLabelValues("failed").Inc()
		return nil, errors.ErrMailboxLocked
	}

	if err := s.parse(unix.LOCK_SH); err != nil {
		return nil, err
	}
	s.unlock(true)
	if len(s.msgs) == 0 && !opts.Silent {
		s.log.Info("mailbox is empty")
	}
	return s, nil
}

// Path returns the mailbox file name.
func (s *Store) Path() string {
	return s.path
}

// ReadOnly reports whether the store lacks write access.
func (s *Store) ReadOnly() bool {
	return s.marker == nil
}

// Len returns the number of visible messages.
func (s *Store) Len() int {
	return len(s.msgs)
}

// Recent returns the number of messages that are new to this session.
func (s *Store) Recent() int {
	return s.recent
}

// UIDValidity returns the UID validity epoch.
func (s *Store) UIDValidity() uint32 {
	return s.base.validity
}

// UIDLast returns the highest UID ever assigned in this epoch.
func (s *Store) UIDLast() uint32 {
	return s.base.last
}

// Keywords returns the keyword table in slot order.
func (s *Store) Keywords() []string {
	return s.keywords.names()
}

// CanCreateKeywords reports whether SetFlags may add new keywords.
func (s *Store) CanCreateKeywords() bool {
	return s.marker != nil && !s.keywords.full()
}

// Dirty reports whether the store has changes not yet written.
func (s *Store) Dirty() bool {
	return s.dirty
}

func (s *Store) info(i int) MessageInfo {
	m := s.msgs[i]
	return MessageInfo{
		Num:      i + 1,
		UID:      m.uid,
		Flags:    m.flags,
		Keywords: s.keywords.keywordNames(m.keywords),
		Date:     m.date,
		Size:     m.size,
	}
}

// Message returns the description of message msgno.
func (s *Store) Message(msgno int) (MessageInfo, error) {
	if err := s.usable(); err != nil {
		return MessageInfo{}, err
	}
	if msgno < 1 || msgno > len(s.msgs) {
		return MessageInfo{}, errors.ErrMessageNotFound
	}
	return s.info(msgno - 1), nil
}

// Messages returns all visible messages.
func (s *Store) Messages() []MessageInfo {
	out := make([]MessageInfo, len(s.msgs))
	for i := range s.msgs {
		out[i] = s.info(i)
	}
	return out
}

// MsgnoByUID returns the message number of uid.
func (s *Store) MsgnoByUID(uid uint32) (int, error) {
	for i, m := range s.msgs {
		if m.uid == uid {
			return i + 1, nil
		}
	}
	return 0, errors.ErrMessageNotFound
}

func (s *Store) usable() error {
	if s.closed {
		return errors.ErrStoreClosed
	}
	return nil
}

func (s *Store) writable() error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.marker == nil {
		return errors.ErrReadOnly
	}
	return nil
}

// lockContent reopens the mailbox and locks it with how.
func (s *Store) lockContent(how int) error {
	if s.lock != nil {
		_ = s.lock.close()
		s.lock = nil
	}
	flag := os.O_RDONLY
	if s.marker != nil {
		flag = os.O_RDWR
	}
	cl, err := lockFile(s.path, flag, 0, how, s.opts.DotLock && s.marker != nil, s.log)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			err = errors.ErrMailboxNotFound
		}
		s.abort()
		return fmt.Errorf("mailbox open failed: %w", err)
	}
	s.lock = cl
	return nil
}

// unlock releases the content lock. touch marks the mailbox as read for
// new-mail checkers that compare access and modification times.
func (s *Store) unlock(touch bool) {
	if s.lock == nil {
		return
	}
	if touch && s.marker != nil {
		if t := touchForReader(s.path, s.lock.f, s.opts.Now()); !t.IsZero() {
			s.fileTime = t
		}
	}
	s.lock.unlock()
}

// abort closes the store without writing anything.
func (s *Store) abort() {
	if s.lock != nil {
		_ = s.lock.close()
		s.lock = nil
	}
	s.marker.release()
	s.marker = nil
	s.closed = true
}

// fail aborts the store after an unrecoverable error and returns err.
func (s *Store) fail(err error) error {
	s.log.Error("mailbox aborted", slog.String("error", err.Error()))
	s.abort()
	return err
}

// Close checkpoints the mailbox, or expunges it when expunge is set, and
// releases it. A read-only store is just released.
func (s *Store) Close(expunge bool) error {
	if s.closed {
		return nil
	}
	var err error
	if s.marker != nil {
		silent := s.opts.Silent
		s.opts.Silent = true
		if expunge {
			_, err = s.Expunge()
		} else if s.dirty {
			err = s.Check()
		}
		s.opts.Silent = silent
	}
	s.abort()
	return err
}

// RequestReadOnly asks the store to give up write access on the next Ping.
// Safe for concurrent use.
func (s *Store) RequestReadOnly() {
	s.readOnlyRequested.Store(true)
}

// Ping picks up messages appended by other processes. If another process
// asked for write access, pending changes are written and write access is
// given up. A read-only store does nothing.
func (s *Store) Ping() error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.marker == nil {
		return nil
	}
	if s.readOnlyRequested.Load() {
		var err error
		if s.dirty {
			err = s.Check()
		}
		if s.marker != nil {
			s.marker.release()
			s.marker = nil
			s.log.Info("gave up write access to another process")
		}
		return err
	}
	fi, err := os.Stat(s.path)
	if err != nil {
		return s.fail(fmt.Errorf("stat mailbox: %w", err))
	}
	if fi.Size() == s.fileSize {
		return nil
	}
	if err := s.parse(unix.LOCK_SH); err != nil {
		return err
	}
	s.unlock(true)
	return nil
}

// Check writes pending flag changes and new UIDs to the file.
func (s *Store) Check() error {
	if err := s.writable(); err != nil {
		return err
	}
	if err := s.parse(unix.LOCK_EX); err != nil {
		return err
	}
	if !s.dirty {
		s.unlock(true)
		return nil
	}
	if _, err := s.rewrite(false); err != nil {
		if !s.closed {
			s.unlock(true)
		}
		return err
	}
	if !s.opts.Silent {
		s.log.Info("checkpoint completed")
	}
	return nil
}

// Expunge removes messages flagged deleted and writes pending changes. It
// returns the number of removed messages.
func (s *Store) Expunge() (int, error) {
	if err := s.writable(); err != nil {
		if err == errors.ErrReadOnly && !s.opts.Silent {
			s.log.Warn("expunge ignored on readonly mailbox")
		}
		return 0, err
	}
	if err := s.parse(unix.LOCK_EX); err != nil {
		return 0, err
	}
	if !s.dirty {
		for _, m := range s.msgs {
			if m.flags&FlagDeleted != 0 {
				s.dirty = true
				break
			}
		}
	}
	if !s.dirty {
		s.unlock(true)
		if !s.opts.Silent {
			s.log.Info("no messages deleted, so no update needed")
		}
		return 0, nil
	}
	n, err := s.rewrite(true)
	if err != nil {
		if !s.closed {
			s.unlock(true)
		}
		return 0, err
	}
	if !s.opts.Silent {
		if n > 0 {
			s.log.Info("expunged messages", slog.Int("count", n))
		} else {
			s.log.Info("mailbox checkpointed, but no messages expunged")
		}
	}
	return n, nil
}

// SetFlags adds flags and keywords to the messages in set. Keywords not in
// the keyword table are created.
func (s *Store) SetFlags(set SeqSet, flags Flags, keywords ...string) error {
	return s.changeFlags(set, flags, keywords, true)
}

// ClearFlags removes flags and keywords from the messages in set.
func (s *Store) ClearFlags(set SeqSet, flags Flags, keywords ...string) error {
	return s.changeFlags(set, flags, keywords, false)
}

func (s *Store) changeFlags(set SeqSet, flags Flags, keywords []string, add bool) error {
	if err := s.writable(); err != nil {
		return err
	}
	idx, err := resolve(set, s.msgs)
	if err != nil {
		return err
	}
	before := s.keywords
	kw, err := s.keywords.mask(keywords, add)
	if err != nil {
		s.keywords = before
		return err
	}
	if s.keywords != before {
		s.dirty = true
	}
	flags &= permanentFlags
	for _, i := range idx {
		m := s.msgs[i]
		oldFlags, oldKw := m.flags, m.keywords
		if add {
			m.flags |= flags
			m.keywords |= kw
		} else {
			m.flags &^= flags
			m.keywords &^= kw
		}
		if m.flags != oldFlags || m.keywords != oldKw {
			m.dirty = true
			s.dirty = true
			s.notifyFlags(i + 1)
		}
	}
	return nil
}

func (s *Store) notifyFlags(msgno int) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.FlagsChanged(msgno)
	}
}

// readAt reads n bytes of the mailbox at off.
func (s *Store) readAt(off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if s.lock == nil || s.lock.f == nil {
		return nil, errors.ErrStoreClosed
	}
	if _, err := s.lock.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read mailbox: %w", err)
	}
	return buf, nil
}

func (s *Store) lookup(msgno int) (*message, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if msgno < 1 || msgno > len(s.msgs) {
		return nil, errors.ErrMessageNotFound
	}
	return s.msgs[msgno-1], nil
}

// visibleHeader returns the header of m without internal fields, in LF
// form and including the blank line.
func (s *Store) visibleHeader(m *message) ([]byte, error) {
	raw, err := s.readAt(m.offset+m.internalSize, m.headerSize)
	if err != nil {
		return nil, err
	}
	return append(filterHeader(raw), '\n'), nil
}

// FetchHeader returns the header of message msgno with CRLF line ends.
// Internal status fields are not included.
func (s *Store) FetchHeader(msgno int) ([]byte, error) {
	m, err := s.lookup(msgno)
	if err != nil {
		return nil, err
	}
	h, err := s.visibleHeader(m)
	if err != nil {
		return nil, err
	}
	return toCRLF(h), nil
}

// FetchBody returns the body of message msgno with CRLF line ends. Unless
// peek is set, the message is marked seen.
func (s *Store) FetchBody(msgno int, peek bool) ([]byte, error) {
	m, err := s.lookup(msgno)
	if err != nil {
		return nil, err
	}
	if !peek && m.flags&FlagSeen == 0 && s.marker != nil {
		m.flags |= FlagSeen
		m.dirty = true
		s.dirty = true
		s.notifyFlags(msgno)
	}
	text, err := s.readAt(m.textOffset(), m.textSize)
	if err != nil {
		return nil, err
	}
	return toCRLF(text), nil
}

// FetchMessage returns header and body of message msgno.
func (s *Store) FetchMessage(msgno int, peek bool) ([]byte, error) {
	h, err := s.FetchHeader(msgno)
	if err != nil {
		return nil, err
	}
	b, err := s.FetchBody(msgno, peek)
	if err != nil {
		return nil, err
	}
	return append(h, b...), nil
}
