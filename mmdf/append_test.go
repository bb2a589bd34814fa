package mmdf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/infodancer/mmdfstore/errors"
)

func TestAppendText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lf", in: "a\nb\n", want: "a\nb\n"},
		{name: "crlf", in: "a\r\nb\r\n", want: "a\nb\n"},
		{name: "no final newline", in: "a\nb", want: "a\nb\n"},
		{name: "ctrl-a", in: "x\x01\x01\x01\x01\ny\n", want: "x\ny\n"},
		{name: "bare cr kept", in: "a\rb\n", want: "a\rb\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(appendText(nil, []byte(tt.in))); got != tt.want {
				t.Errorf("appendText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppendNewStatus(t *testing.T) {
	got := string(appendNewStatus(nil, FlagSeen|FlagAnswered|FlagRecent, []string{"a", "b"}))
	want := "Status: R\nX-Status: A\nX-Keywords: a b\n"
	if got != want {
		t.Errorf("appendNewStatus = %q, want %q", got, want)
	}
}

func TestAppend(t *testing.T) {
	opts := testOptions(t)
	opts.DefaultKeywords = []string{"work"}
	path := newMailbox(t, opts)

	date := time.Date(2023, 7, 14, 8, 9, 10, 0, time.FixedZone("", -4*3600))
	err := Append(path, opts,
		AppendMessage{
			Flags:    FlagSeen | FlagFlagged,
			Keywords: []string{"work", "unknown"},
			Date:     date,
			Body:     []byte("Subject: one\r\n\r\nline\x01one\r\nno newline"),
		},
		AppendMessage{Body: []byte("Subject: two\n\nsecond\n")},
	)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !fi.ModTime().Equal(testNow) {
		t.Errorf("mtime = %v, want %v", fi.ModTime(), testNow)
	}

	s := openStore(t, path, opts)
	if s.Len() != 2 || s.Recent() != 2 {
		t.Fatalf("Len %d Recent %d, want 2 and 2", s.Len(), s.Recent())
	}
	msgs := s.Messages()
	if msgs[0].Flags != FlagSeen|FlagFlagged|FlagRecent {
		t.Errorf("flags = %v", msgs[0].Flags.Strings())
	}
	if len(msgs[0].Keywords) != 1 || msgs[0].Keywords[0] != "work" {
		t.Errorf("keywords = %q", msgs[0].Keywords)
	}
	if !msgs[0].Date.Equal(date) {
		t.Errorf("date = %v, want %v", msgs[0].Date, date)
	}
	if !msgs[1].Date.Equal(testNow) {
		t.Errorf("default date = %v, want %v", msgs[1].Date, testNow)
	}
	body, err := s.FetchBody(1, true)
	if err != nil {
		t.Fatalf("FetchBody failed: %v", err)
	}
	if string(body) != "lineone\r\nno newline\r\n" {
		t.Errorf("body = %q", body)
	}
	if msgs[0].Size != int64(len("Subject: one\r\n\r\n")+len(body)) {
		t.Errorf("size = %d", msgs[0].Size)
	}
	data := readFile(t, path)
	if !bytes.Contains(data, []byte("From alice@example.com Fri Jul 14 08:09:10 2023 -0400\n")) {
		t.Errorf("envelope missing:\n%s", data)
	}
}

func TestAppend_Errors(t *testing.T) {
	opts := testOptions(t)
	if err := Append(filepath.Join(t.TempDir(), "nope"), opts, AppendMessage{Body: []byte("x\n")}); err != errors.ErrMailboxNotFound {
		t.Errorf("err = %v, want ErrMailboxNotFound", err)
	}
	if err := Append(writeMailbox(t, "plain\n"), opts, AppendMessage{Body: []byte("x\n")}); err != errors.ErrNotMMDF {
		t.Errorf("err = %v, want ErrNotMMDF", err)
	}

	path := newMailbox(t, opts)
	before := readFile(t, path)
	err := Append(path, opts, AppendMessage{Body: []byte("x\n")}, AppendMessage{})
	if err != errors.ErrEmptyMessage {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
	if !bytes.Equal(before, readFile(t, path)) {
		t.Error("failed append changed the mailbox")
	}
	if err := Append(path, opts, AppendMessage{Body: []byte("x\n"), Keywords: []string{"bad word"}}); err != errors.ErrBadKeyword {
		t.Errorf("err = %v, want ErrBadKeyword", err)
	}
	if err := Append(path, opts); err != nil {
		t.Errorf("empty append failed: %v", err)
	}
}

func TestStore_Append(t *testing.T) {
	opts := testOptions(t)
	path := newMailbox(t, opts, "one")
	rec := &notifyRecorder{}
	opts.Notifier = rec
	s := openStore(t, path, opts)

	err := s.Append(AppendMessage{
		Keywords: []string{"todo"},
		Body:     []byte("Subject: two\n\nsecond\n"),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if len(rec.added) != 2 || rec.added[1] != 2 {
		t.Errorf("NewMessage calls = %v", rec.added)
	}
	mi, _ := s.Message(2)
	if len(mi.Keywords) != 1 || mi.Keywords[0] != "todo" {
		t.Errorf("keywords = %q", mi.Keywords)
	}
	if !s.Dirty() {
		t.Error("store not dirty after keyword creation")
	}
	closeStore(t, s)

	opts.Notifier = nil
	s = openStore(t, path, opts)
	if kw := s.Keywords(); len(kw) != 1 || kw[0] != "todo" {
		t.Errorf("keyword table = %q", kw)
	}
	if mi, _ := s.Message(2); len(mi.Keywords) != 1 {
		t.Errorf("keywords after reopen = %q", mi.Keywords)
	}
}
