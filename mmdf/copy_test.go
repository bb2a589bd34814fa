package mmdf

import (
	"path/filepath"
	"testing"

	"github.com/infodancer/mmdfstore/errors"
	"github.com/infodancer/mmdfstore/maildir"
)

func TestCopy(t *testing.T) {
	opts := testOptions(t)
	src := newMailbox(t, opts, "one", "two", "three")
	dest := newMailbox(t, opts)

	s := openStore(t, src, opts)
	if err := s.SetFlags(Nums(1), FlagAnswered, "work"); err != nil {
		t.Fatalf("SetFlags failed: %v", err)
	}
	if err := s.Copy(Nums(1, 3), dest, false); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if mi, _ := s.Message(1); mi.Flags.Has(FlagDeleted) {
		t.Error("copy flagged the source deleted")
	}
	want1, err := s.FetchMessage(1, true)
	if err != nil {
		t.Fatalf("FetchMessage failed: %v", err)
	}
	want2, err := s.FetchMessage(3, true)
	if err != nil {
		t.Fatalf("FetchMessage failed: %v", err)
	}
	srcDate := s.Messages()[0].Date

	dopts := opts
	dopts.ReadOnly = true
	d := openStore(t, dest, dopts)
	if d.Len() != 2 || d.Recent() != 2 {
		t.Fatalf("destination Len %d Recent %d, want 2 and 2", d.Len(), d.Recent())
	}
	mi, _ := d.Message(1)
	if !mi.Flags.Has(FlagAnswered) {
		t.Errorf("flags = %v", mi.Flags.Strings())
	}
	if !mi.Date.Equal(srcDate) {
		t.Errorf("date = %v, want %v", mi.Date, srcDate)
	}
	got1, err := d.FetchMessage(1, true)
	if err != nil {
		t.Fatalf("FetchMessage failed: %v", err)
	}
	got2, err := d.FetchMessage(2, true)
	if err != nil {
		t.Fatalf("FetchMessage failed: %v", err)
	}
	if string(got1) != string(want1) || string(got2) != string(want2) {
		t.Errorf("copied messages differ:\n%q\n%q", got1, got2)
	}
}

func TestCopy_Move(t *testing.T) {
	opts := testOptions(t)
	src := newMailbox(t, opts, "one", "two")
	dest := newMailbox(t, opts)

	rec := &notifyRecorder{}
	sopts := opts
	sopts.Notifier = rec
	s := openStore(t, src, sopts)
	if err := s.Copy(Nums(2), dest, true); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if mi, _ := s.Message(2); !mi.Flags.Has(FlagDeleted) {
		t.Error("moved message not flagged deleted")
	}
	if len(rec.changed) != 1 || rec.changed[0] != 2 {
		t.Errorf("FlagsChanged calls = %v", rec.changed)
	}
	if n, err := s.Expunge(); err != nil || n != 1 {
		t.Fatalf("Expunge = %d, %v", n, err)
	}
	closeStore(t, s)

	d := openStore(t, dest, opts)
	if d.Len() != 1 {
		t.Fatalf("destination Len = %d", d.Len())
	}
	h, err := d.FetchHeader(1)
	if err != nil {
		t.Fatalf("FetchHeader failed: %v", err)
	}
	if string(h) != "Subject: two\r\n\r\n" {
		t.Errorf("header = %q", h)
	}
}

func TestCopy_Errors(t *testing.T) {
	opts := testOptions(t)
	src := newMailbox(t, opts, "one")
	s := openStore(t, src, opts)

	if err := s.Copy(Nums(1), filepath.Join(t.TempDir(), "missing"), false); err != errors.ErrMailboxNotFound {
		t.Errorf("err = %v, want ErrMailboxNotFound", err)
	}
	if err := s.Copy(Nums(1), writeMailbox(t, "plain\n"), false); err != errors.ErrNotMMDF {
		t.Errorf("err = %v, want ErrNotMMDF", err)
	}
	if err := s.Copy(Nums(5), newMailbox(t, opts), false); err == nil {
		t.Error("expected error for message number out of range")
	}

	opts.ReadOnly = true
	ro := openStore(t, src, opts)
	if err := ro.Copy(Nums(1), newMailbox(t, opts), true); err != errors.ErrReadOnly {
		t.Errorf("move from read-only err = %v, want ErrReadOnly", err)
	}
	if err := ro.Copy(Nums(1), newMailbox(t, opts), false); err != nil {
		t.Errorf("copy from read-only failed: %v", err)
	}
}

func TestCopy_Maildir(t *testing.T) {
	opts := testOptions(t)
	src := newMailbox(t, opts, "one", "two")
	dir := filepath.Join(t.TempDir(), "Maildir")
	folder, err := maildir.Create(dir)
	if err != nil {
		t.Fatalf("maildir.Create failed: %v", err)
	}

	s := openStore(t, src, opts)
	if err := s.SetFlags(Nums(2), FlagSeen|FlagFlagged); err != nil {
		t.Fatalf("SetFlags failed: %v", err)
	}
	if err := s.Copy(Nums(1, 2), dir, false); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}

	msgs, err := folder.Messages()
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("maildir has %d messages, want 2", len(msgs))
	}
	var recent, flagged int
	for _, m := range msgs {
		if m.Recent {
			recent++
			continue
		}
		flagged++
		if len(m.Flags) != 2 {
			t.Errorf("flags = %q", m.Flags)
		}
		content, err := folder.ReadMessage(m.Key)
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		if string(content) != "Subject: two\n\nbody of two\n" {
			t.Errorf("content = %q", content)
		}
	}
	if recent != 1 || flagged != 1 {
		t.Errorf("recent %d flagged %d, want 1 and 1", recent, flagged)
	}
}
