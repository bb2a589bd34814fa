package mmdf

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/infodancer/mmdfstore/errors"
)

// parse locks the mailbox with how and indexes the bytes appended since
// the last parse. On success the lock is held and the caller must unlock.
// On failure the store is aborted.
func (s *Store) parse(how int) error {
	if err := s.lockContent(how); err != nil {
		return err
	}
	fi, err := s.lock.f.Stat()
	if err != nil {
		return s.fail(fmt.Errorf("stat mailbox: %w", err))
	}
	size := fi.Size()
	switch {
	case size < s.fileSize:
		return s.fail(fmt.Errorf("%w from %d to %d bytes", errors.ErrMailboxShrank, s.fileSize, size))
	case size == s.fileSize:
		if !s.fileTime.IsZero() && s.fileTime.Unix() != fi.ModTime().Unix() {
			s.log.Warn("new mailbox modification time but apparently no changes")
		}
	default:
		if err := s.scan(size, fi.ModTime()); err != nil {
			return s.fail(err)
		}
	}
	s.fileSize = size
	s.fileTime = fi.ModTime()
	return nil
}

// scanState carries the parse of one run of new bytes.
type scanState struct {
	lr         *lineReader
	mtime      time.Time
	added      []*message
	prevUID    uint32
	pseudoSeen bool
	recent     int
}

// index returns the position the next record would have, counting the
// placeholder if one was seen.
func (st *scanState) index(s *Store) int {
	return len(s.msgs) + len(st.added)
}

// scan reads the records between the parsed size and size.
func (s *Store) scan(size int64, mtime time.Time) error {
	st := &scanState{
		lr:    newLineReader(s.lock.f, 0, size),
		mtime: mtime.UTC(),
	}
	if n := len(s.msgs); n > 0 {
		st.prevUID = s.msgs[n-1].uid
	}
	st.lr.seek(s.fileSize)
	if err := st.lr.skipSpace(); err != nil {
		return fmt.Errorf("read mailbox: %w", err)
	}
	for st.lr.remaining() > 0 {
		start := st.lr.offset()
		line, err := st.lr.next()
		if err != nil {
			return fmt.Errorf("read mailbox: %w", err)
		}
		if !isSentinel(line) {
			bad := string(line)
			if len(bad) > 20 {
				bad = bad[:20]
			}
			// One step back: the previous trailing sentinel may double as
			// this record's leading one.
			ok := false
			if len(line) > 0 && start > sentinelLen {
				start -= sentinelLen
				st.lr.seek(start)
				if line, err = st.lr.next(); err != nil {
					return fmt.Errorf("read mailbox: %w", err)
				}
				ok = isSentinel(line)
			}
			if !ok {
				return fmt.Errorf("%w: %q", errors.ErrFormatCorrupt, bad)
			}
		}
		m, err := s.scanRecord(st, start, int64(len(line)))
		if err != nil {
			return err
		}
		st.added = append(st.added, m)
		metricParsed.Inc()

		// Whitespace and the zero fill of an interrupted extend may follow
		// a record.
		if err := st.lr.skipSpace(); err != nil {
			return fmt.Errorf("read mailbox: %w", err)
		}
	}
	s.finishScan(st)
	return nil
}

// scanRecord reads one record whose leading sentinel line of length
// sentinelSize starts at offset.
func (s *Store) scanRecord(st *scanState, offset, sentinelSize int64) (*message, error) {
	lr := st.lr
	idx := st.index(s)
	m := &message{
		offset:       offset,
		internalSize: sentinelSize,
		flags:        FlagRecent,
	}
	st.recent++
	msgno := idx + 1
	if st.pseudoSeen {
		msgno = idx
	}

	line, err := lr.next()
	if err != nil {
		return nil, fmt.Errorf("read mailbox: %w", err)
	}
	pending := false
	if env, ok := scanEnvelope(line); ok {
		m.internalSize += int64(len(line))
		if d, ok := env.date(time.Local); ok {
			m.date = d
		} else {
			s.log.Warn("unable to parse internal date",
				slog.Int("msgno", msgno),
				slog.String("line", string(bytes.TrimRight(line, "\r\n"))))
			m.date = st.mtime
		}
	} else {
		m.date = st.mtime
		pending = true
	}

	// Header.
	filter := newHeaderFilter()
	endOfRecord := false
	for {
		if !pending {
			if line, err = lr.next(); err != nil {
				return nil, fmt.Errorf("read mailbox: %w", err)
			}
		}
		pending = false
		if line == nil {
			m.unterminated = true
			endOfRecord = true
			break
		}
		if isSentinel(line) {
			// No blank line and no body.
			endOfRecord = true
			break
		}
		m.headerSize += int64(len(line))
		if isBlankLine(line) {
			m.size += 2
			break
		}
		kind, value, name := classifyField(line)
		switch kind {
		case fieldStatus, fieldXStatus:
			if parseFlagChars(value, &m.flags) && m.flags&FlagRecent != 0 {
				m.flags &^= FlagRecent
				st.recent--
			}
		case fieldKeywords:
			for _, tok := range tokens(value) {
				if len(tok) >= maxKeywordLen {
					continue
				}
				if i, ok := s.keywords.lookup(string(tok)); ok {
					m.keywords |= 1 << uint(i)
				}
			}
		case fieldIMAP, fieldIMAPBase:
			if idx == 0 && s.base.validity == 0 {
				s.scanBase(st, value, kind == fieldIMAP)
			}
		case fieldUID:
			if s.base.validity != 0 && (idx > 0 || !st.pseudoSeen) {
				s.scanUID(st, m, value, msgno)
			}
		case fieldBogus:
			s.log.Warn("discarding bogus header",
				slog.String("field", name),
				slog.Int("msgno", msgno))
		}
		if filter.keep(line, kind) {
			k := int64(lfLen(line))
			m.filtered += k
			m.size += k + 1
		} else if kind == fieldOther {
			s.log.Warn("discarding bogus continuation",
				slog.Int("msgno", msgno),
				slog.String("line", truncateLine(line, 80)))
		}
	}

	if (idx > 0 || !st.pseudoSeen) && m.uid == 0 {
		s.base.last++
		m.uid = s.base.last
		st.prevUID = m.uid
		m.dirty = true
	} else {
		m.dirty = m.flags&FlagRecent != 0
	}

	if endOfRecord {
		m.dirty = m.dirty || m.unterminated
		return m, nil
	}

	// Body.
	end := lr.offset()
	textStart := end
	for {
		if line, err = lr.next(); err != nil {
			return nil, fmt.Errorf("read mailbox: %w", err)
		}
		if line == nil {
			m.unterminated = true
			m.dirty = true
			break
		}
		if isSentinel(line) {
			break
		}
		m.size += int64(len(line))
		if n := len(line); n < 2 || line[n-2] != '\r' {
			m.size++
		}
		end = lr.offset()
	}
	m.textSize = end - textStart
	return m, nil
}

// scanBase reads the UID validity, last UID and keyword table from an
// X-IMAP or X-IMAPbase value.
func (s *Store) scanBase(st *scanState, value []byte, placeholder bool) {
	value = bytes.TrimLeft(value, " ")
	validity, rest, ok := parseDecimal(value)
	if !ok || validity == 0 {
		return
	}
	rest = bytes.TrimLeft(rest, " ")
	last, rest, ok := parseDecimal(rest)
	if !ok {
		return
	}
	if placeholder {
		st.pseudoSeen = true
		s.pseudo = true
	}
	s.base = uidBase{validity: validity, last: last}
	for j, tok := range tokens(rest) {
		if j >= maxKeywords {
			break
		}
		s.keywords[j] = string(tok)
	}
}

// scanUID checks an X-UID value. A UID that is duplicated, out of order or
// beyond the recorded last UID invalidates the epoch.
func (s *Store) scanUID(st *scanState, m *message, value []byte, msgno int) {
	uid, _, _ := parseDecimal(bytes.TrimLeft(value, " "))
	var reason string
	switch {
	case m.uid != 0:
		reason = "message already has UID"
	case uid <= st.prevUID:
		reason = "UID less than previous"
	case uid > s.base.last:
		reason = "UID greater than last"
	default:
		m.uid = uid
		st.prevUID = uid
		return
	}
	s.log.Warn(reason,
		slog.Int("msgno", msgno),
		slog.Uint64("uid", uint64(uid)),
		slog.Uint64("previous", uint64(st.prevUID)),
		slog.Uint64("last", uint64(s.base.last)))
	s.base.validity = 0
	m.uid = 0
}

// finishScan publishes the records of a scan. A placeholder record is
// dropped before anything is published, so a Notifier never sees it: there
// is no NewMessage or Expunged call for its slot.
func (s *Store) finishScan(st *scanState) {
	added := st.added
	if st.pseudoSeen && len(added) > 0 {
		if added[0].flags&FlagRecent != 0 {
			st.recent--
		}
		added = added[1:]
	}
	if s.base.validity == 0 {
		s.base.validity = uint32(s.opts.Now().Unix())
		if len(s.msgs)+len(added) > 0 {
			s.dirty = true
			for _, m := range s.msgs {
				m.dirty = true
			}
			for _, m := range added {
				m.dirty = true
			}
			s.log.Info("assigning new unique identifiers to all messages")
		}
	}
	for _, m := range added {
		s.msgs = append(s.msgs, m)
		if s.opts.Notifier != nil {
			s.opts.Notifier.NewMessage(len(s.msgs))
		}
	}
	s.recent += st.recent
	if s.recent > 0 {
		s.dirty = true
	}
}

func truncateLine(line []byte, n int) string {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) > n {
		line = line[:n]
	}
	return string(line)
}
