package mmdf

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/infodancer/mmdfstore/errors"
	"github.com/infodancer/mmdfstore/maildir"
)

// Copy appends the messages in set to dest, which is either an existing
// MMDF mailbox or a Maildir directory. A missing destination is
// ErrMailboxNotFound; the caller may create it and retry. With move set,
// the copied messages are flagged deleted here.
func (s *Store) Copy(set SeqSet, dest string, move bool) error {
	var err error
	if move {
		err = s.writable()
	} else {
		err = s.usable()
	}
	if err != nil {
		return err
	}
	idx, err := resolve(set, s.msgs)
	if err != nil {
		return err
	}
	op := "copy"
	if move {
		op = "move"
	}
	err = s.copyTo(idx, dest)
	metricAppend.WithLabelValues(op, resultLabel(err)).Inc()
	if err != nil {
		return err
	}
	if move {
		for _, i := range idx {
			m := s.msgs[i]
			if m.flags&FlagDeleted == 0 {
				m.flags |= FlagDeleted
				m.dirty = true
				s.dirty = true
				s.notifyFlags(i + 1)
			}
		}
	}
	return nil
}

func (s *Store) copyTo(idx []int, dest string) error {
	fi, err := os.Stat(dest)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.ErrMailboxNotFound
		}
		return fmt.Errorf("stat destination: %w", err)
	}
	if fi.IsDir() {
		return s.copyToMaildir(idx, dest)
	}
	if err := Validate(dest); err != nil {
		return err
	}
	var data []byte
	for _, i := range idx {
		if data, err = s.appendRecord(data, s.msgs[i]); err != nil {
			return err
		}
	}
	if len(data) == 0 {
		return nil
	}
	if err := writeTail(dest, s.opts, data); err != nil {
		return err
	}
	if !s.opts.Silent {
		s.log.Debug("messages copied", slog.String("destination", dest), slog.Int("count", len(idx)))
	}
	return nil
}

// appendRecord renders m as a new record for another mailbox: envelope,
// visible header, flags without UID and the text. The copy is recent in
// the destination.
func (s *Store) appendRecord(dst []byte, m *message) ([]byte, error) {
	internal, err := s.readAt(m.offset, m.internalSize)
	if err != nil {
		return nil, err
	}
	dst = append(dst, sentinel...)
	env := internal[bytes.IndexByte(internal, '\n')+1:]
	if len(env) == 0 {
		dst = append(dst, envelopeLine(s.opts.User, s.opts.Host, m.date)...)
	} else {
		dst = append(dst, squeezeCR(env)...)
	}

	raw, err := s.readAt(m.offset+m.internalSize, m.headerSize)
	if err != nil {
		return nil, err
	}
	dst = append(dst, filterHeader(raw)...)
	dst = appendNewStatus(dst, m.flags, s.keywords.keywordNames(m.keywords))
	dst = append(dst, '\n')

	text, err := s.readAt(m.textOffset(), m.textSize)
	if err != nil {
		return nil, err
	}
	text = squeezeCR(text)
	dst = append(dst, text...)
	if n := len(text); n > 0 && text[n-1] != '\n' {
		dst = append(dst, '\n')
	}
	return append(dst, sentinel...), nil
}

func (s *Store) copyToMaildir(idx []int, dest string) error {
	folder, err := maildir.Open(dest)
	if err != nil {
		return err
	}
	for _, i := range idx {
		m := s.msgs[i]
		h, err := s.visibleHeader(m)
		if err != nil {
			return err
		}
		text, err := s.readAt(m.textOffset(), m.textSize)
		if err != nil {
			return err
		}
		msg := append(h, squeezeCR(text)...)
		if _, err := folder.Deliver(msg, (m.flags & permanentFlags).Strings()); err != nil {
			return fmt.Errorf("maildir delivery: %w", err)
		}
	}
	return nil
}
