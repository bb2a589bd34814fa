package mmdf

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/infodancer/mmdfstore/errors"
)

// rewriteFile is the part of *os.File a rewrite uses.
type rewriteFile interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Sync() error
}

// extend grows the mailbox to size with zeros before anything is moved, so
// that running out of space cannot happen halfway through a rewrite.
func (s *Store) extend(f rewriteFile, size int64) error {
	if size <= s.fileSize {
		return nil
	}
	zeros := make([]byte, chunkSize)
	for {
		err := func() error {
			for pos := s.fileSize; pos < size; {
				n := size - pos
				if n > chunkSize {
					n = chunkSize
				}
				if _, err := f.WriteAt(zeros[:n], pos); err != nil {
					return err
				}
				pos += n
			}
			return f.Sync()
		}()
		if err == nil {
			return nil
		}
		_ = f.Truncate(s.fileSize)
		if !s.opts.DiskError(err, false) {
			_ = f.Sync()
			s.log.Error("unable to extend mailbox", slog.String("error", err.Error()))
			return fmt.Errorf("%w: extend mailbox: %v", errors.ErrDiskFailure, err)
		}
	}
}

// protectedWriter streams the new mailbox contents over the old. Data is
// queued in buf and only written below protect, the offset of the first old
// byte still needed. Writes are kept chunk aligned where possible.
//
// Once the first byte has gone out the file no longer matches any index,
// so a failed write is reported to diskErr as fatal and then retried until
// it succeeds, whatever the handler answers.
type protectedWriter struct {
	f       rewriteFile
	diskErr DiskErrorHandler

	curpos  int64 // logical position: filepos + len(buf)
	filepos int64 // physical position
	protect int64
	buf     []byte
	written int64
}

func newProtectedWriter(f rewriteFile, protect int64, diskErr DiskErrorHandler) *protectedWriter {
	return &protectedWriter{
		f:       f,
		diskErr: diskErr,
		protect: protect,
		buf:     make([]byte, 0, chunkSize),
	}
}

// write queues p and writes out what may be written.
func (w *protectedWriter) write(p []byte) {
	w.buf = append(w.buf, p...)
	w.curpos += int64(len(p))
	n := int64(len(w.buf))
	if free := w.protect - w.filepos; free < n {
		n = free
	}
	if n <= 0 {
		return
	}
	end := w.filepos + n
	if aligned := end - end%chunkSize; aligned > w.filepos {
		end = aligned
	} else if end < w.filepos+int64(len(w.buf)) {
		// Less than a chunk may go out; wait for more room.
		return
	}
	w.physWrite(end - w.filepos)
}

// flush writes everything queued and restarts protection at the new end.
// The caller guarantees that no old data below curpos is still needed.
func (w *protectedWriter) flush() {
	w.physWrite(int64(len(w.buf)))
	w.curpos = w.filepos
	w.protect = w.filepos
}

// skip advances past n bytes that are already in place.
func (w *protectedWriter) skip(n int64) {
	w.flush()
	w.filepos += n
	w.curpos = w.filepos
	w.protect = w.filepos
}

func (w *protectedWriter) physWrite(n int64) {
	if n == 0 {
		return
	}
	for {
		_, err := w.f.WriteAt(w.buf[:n], w.filepos)
		if err == nil {
			break
		}
		// Giving up would leave records cross-linked.
		_ = w.diskErr(err, true)
	}
	w.filepos += n
	w.written += n
	w.buf = append(w.buf[:0], w.buf[n:]...)
}

// statusFor renders the pseudo-header of m. first is set for the record
// that carries the UID base when there is no placeholder.
func (s *Store) statusFor(dst []byte, m *message, first bool, withUID bool) []byte {
	sb := statusBlock{
		flags:    m.flags,
		keywords: m.keywords,
		uid:      m.uid,
		withUID:  withUID,
	}
	if first {
		sb.base = &s.base
	}
	return appendStatus(dst, sb, &s.keywords)
}

// rewrite writes the index back to the file under the exclusive lock. With
// expunge set, deleted messages are dropped. It returns the number of
// dropped messages. On success the content lock is released. A disk error
// during extend leaves the file as it was; disk errors after that are
// retried. Any other error aborts the store.
func (s *Store) rewrite(expunge bool) (int, error) {
	kind := "checkpoint"
	if expunge {
		kind = "expunge"
	}
	n, err := s.rewriteFile(expunge)
	metricRewrite.WithLabelValues(kind, resultLabel(err)).Inc()
	if err != nil {
		return 0, err
	}
	metricExpunged.Add(float64(n))
	return n, nil
}

func (s *Store) rewriteFile(expunge bool) (int, error) {
	var f rewriteFile = s.lock.f
	if s.fileHook != nil {
		f = s.fileHook(f)
	}
	now := s.opts.Now()

	var placeholder []byte
	if s.pseudo {
		placeholder = renderPlaceholder(now, s.opts.Host, s.base, &s.keywords)
	}

	// Size after the rewrite.
	size := int64(len(placeholder))
	var scratch []byte
	first := !s.pseudo
	for _, m := range s.msgs {
		if expunge && m.flags&FlagDeleted != 0 {
			continue
		}
		scratch = s.statusFor(scratch[:0], m, first, true)
		size += m.internalSize + m.filtered + int64(len(scratch)) + m.textSize + sentinelLen
		first = false
	}

	if err := s.extend(f, size); err != nil {
		return 0, err
	}

	protect := int64(chunkSize)
	if len(s.msgs) > 0 {
		protect = s.msgs[0].offset
	}
	w := newProtectedWriter(f, protect, s.opts.DiskError)
	if placeholder != nil {
		w.write(placeholder)
	}

	expunged := 0
	first = !s.pseudo
	for i := 0; i < len(s.msgs); {
		m := s.msgs[i]
		if expunge && m.flags&FlagDeleted != 0 {
			if m.flags&FlagRecent != 0 {
				s.recent--
			}
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			expunged++
			if s.opts.Notifier != nil {
				s.opts.Notifier.Expunged(i + 1)
			}
			continue
		}
		i++
		var next int64 = -1
		if i < len(s.msgs) {
			next = s.msgs[i].offset
		}

		scratch = s.statusFor(scratch[:0], m, first, true)
		if !first && !m.dirty && w.curpos == m.offset && m.headerSize == m.filtered+int64(len(scratch)) && !m.unterminated {
			w.skip(m.internalSize + m.headerSize + m.textSize + sentinelLen)
			continue
		}
		first = false
		newSize, err := s.rewriteMessage(w, m, scratch, next)
		if err != nil {
			return 0, s.fail(err)
		}
		size += newSize
	}

	w.flush()
	if size != w.filepos {
		return 0, s.fail(fmt.Errorf("%w: file size %d, wrote %d", errors.ErrInconsistent, size, w.filepos))
	}
	if err := f.Truncate(size); err != nil {
		return 0, s.fail(fmt.Errorf("truncate mailbox: %w", err))
	}
	if err := f.Sync(); err != nil {
		return 0, s.fail(fmt.Errorf("sync mailbox: %w", err))
	}
	if size > 0 && first {
		return 0, s.fail(fmt.Errorf("%w: lost UID base information", errors.ErrInconsistent))
	}
	metricRewriteBytes.Add(float64(w.written))
	s.fileSize = size
	s.dirty = false

	// Access time now, modification time a second before: the mailbox has
	// been read since it last changed.
	atime := now.Truncate(time.Second)
	mtime := atime.Add(-time.Second)
	if err := os.Chtimes(s.path, atime, mtime); err == nil {
		s.fileTime = mtime
	}
	_ = s.lock.close()
	s.lock = nil
	nf, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		return 0, s.fail(fmt.Errorf("mailbox open failed: %w", err))
	}
	s.lock = &contentLock{f: nf}
	return expunged, nil
}

// rewriteMessage queues the new form of m. It returns the change of the
// total size caused by squeezing CRs out of old data.
func (s *Store) rewriteMessage(w *protectedWriter, m *message, status []byte, next int64) (int64, error) {
	var delta int64
	newOffset := w.curpos
	oldOffset, oldInternal := m.offset, m.internalSize
	oldText := m.textOffset()

	internal, err := s.readFrom(w.f, oldOffset, oldInternal)
	if err != nil {
		return 0, err
	}
	if n := len(internal); n >= 2 && internal[n-2] == '\r' {
		internal = append(internal[:n-2], '\n')
		m.internalSize--
		delta--
	}
	w.protect = oldOffset + oldInternal
	w.write(internal)

	raw, err := s.readFrom(w.f, oldOffset+oldInternal, m.headerSize)
	if err != nil {
		return 0, err
	}
	header := filterHeader(raw)
	if int64(len(header)) != m.filtered {
		return 0, fmt.Errorf("%w: header size %d, expected %d", errors.ErrInconsistent, len(header), m.filtered)
	}
	w.protect = oldText
	w.write(header)
	w.write(status)
	m.headerSize = m.filtered + int64(len(status))

	if w.curpos != w.protect || m.unterminated {
		text, err := s.readFrom(w.f, oldText, m.textSize)
		if err != nil {
			return 0, err
		}
		text = squeezeCR(text)
		switch n := int64(len(text)); {
		case n < m.textSize:
			delta -= m.textSize - n
			m.textSize = n
		case n > m.textSize:
			return 0, fmt.Errorf("%w: text size", errors.ErrInconsistent)
		}
		if next >= 0 {
			w.protect = next
		} else {
			w.protect = w.curpos + m.textSize + sentinelLen
		}
		w.write(text)
		w.write(sentinelBytes)
	} else {
		w.skip(m.textSize + sentinelLen)
	}

	m.offset = newOffset
	m.dirty = false
	m.unterminated = false
	return delta, nil
}

func (s *Store) readFrom(f io.ReaderAt, off, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read mailbox: %w", err)
	}
	return buf, nil
}
