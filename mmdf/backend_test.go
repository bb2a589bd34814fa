package mmdf

import (
	"context"
	stderrors "errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/mmdfstore"
	"github.com/infodancer/mmdfstore/errors"
)

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(map[string]string{
		"lock_dir": "/run/mmdf",
		"user":     "mail",
		"host":     "mx.example.com",
		"silent":   "true",
		"dotlock":  "1",
		"keywords": "junk, nonjunk ,,",
	})
	if err != nil {
		t.Fatalf("optionsFromConfig failed: %v", err)
	}
	if opts.LockDir != "/run/mmdf" || opts.User != "mail" || opts.Host != "mx.example.com" {
		t.Errorf("unexpected options %+v", opts)
	}
	if !opts.Silent || !opts.DotLock || opts.ReadOnly {
		t.Errorf("bools: silent %v dotlock %v read_only %v", opts.Silent, opts.DotLock, opts.ReadOnly)
	}
	if strings.Join(opts.DefaultKeywords, ",") != "junk,nonjunk" {
		t.Errorf("keywords = %q", opts.DefaultKeywords)
	}

	if _, err := optionsFromConfig(map[string]string{"read_only": "maybe"}); !stderrors.Is(err, errors.ErrStoreConfigInvalid) {
		t.Errorf("err = %v, want ErrStoreConfigInvalid", err)
	}
	many := strings.Repeat("k,", maxKeywords+1)
	if _, err := optionsFromConfig(map[string]string{"keywords": many}); !stderrors.Is(err, errors.ErrStoreConfigInvalid) {
		t.Errorf("err = %v, want ErrStoreConfigInvalid", err)
	}
}

func TestMailboxPath(t *testing.T) {
	base := t.TempDir()
	tests := []struct {
		name     string
		template string
		file     string
		mailbox  string
		want     string
		err      error
	}{
		{name: "plain", mailbox: "alice", want: filepath.Join(base, "alice")},
		{name: "template", template: "{domain}/{localpart}", mailbox: "alice@example.com", want: filepath.Join(base, "example.com", "alice")},
		{name: "mailbox file", template: "{localpart}", file: "INBOX", mailbox: "bob@example.com", want: filepath.Join(base, "bob", "INBOX")},
		{name: "traversal", mailbox: "../etc/passwd", err: errors.ErrPathTraversal},
		{name: "template traversal", template: "{localpart}", mailbox: "..@example.com", err: errors.ErrPathTraversal},
		{name: "base itself", mailbox: ".", err: errors.ErrPathTraversal},
		{name: "empty", mailbox: "", err: errors.ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMailboxStore(base, tt.template, tt.file, testOptions(t))
			got, err := store.MailboxPath(tt.mailbox)
			if err != tt.err {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if got != tt.want {
				t.Errorf("path = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMailboxStore_Lifecycle(t *testing.T) {
	base := t.TempDir()
	opts := testOptions(t)
	store := NewMailboxStore(base, "{localpart}", "", opts)
	ctx := context.Background()

	envelope := mmdfstore.Envelope{
		From:         "sender@origin.example",
		Recipients:   []string{"user+lists@example.com", "../escape@example.com"},
		ReceivedTime: time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	for _, subj := range []string{"one", "two"} {
		if err := store.Deliver(ctx, envelope, strings.NewReader("Subject: "+subj+"\r\n\r\nbody\r\n")); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}
	path := filepath.Join(base, "user")
	if !IsValid(path) {
		t.Fatal("mailbox not created by delivery")
	}
	if !strings.Contains(string(readFile(t, path)), "From sender@origin.example Sun Jan  2 03:04:05 2022 +0000\n") {
		t.Error("envelope does not name the sender")
	}

	messages, err := store.List(ctx, "user")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(messages) != 2 || messages[0].UID != "1" || messages[1].UID != "2" {
		t.Fatalf("List = %+v", messages)
	}
	if messages[0].Size != int64(len("Subject: one\r\n\r\nbody\r\n")) {
		t.Errorf("size = %d", messages[0].Size)
	}

	rc, err := store.Retrieve(ctx, "user", "2")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	content, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(content) != "Subject: two\r\n\r\nbody\r\n" {
		t.Errorf("content = %q", content)
	}
	messages, _ = store.List(ctx, "user")
	if !hasFlag(messages[1].Flags, `\Seen`) || hasFlag(messages[1].Flags, `\Recent`) {
		t.Errorf("flags after retrieve = %q", messages[1].Flags)
	}

	if err := store.Delete(ctx, "user", "1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Retrieve(ctx, "user", "1"); err != errors.ErrMessageNotFound {
		t.Errorf("Retrieve of deleted err = %v, want ErrMessageNotFound", err)
	}
	count, total, err := store.Stat(ctx, "user")
	if err != nil || count != 1 || total != int64(len("Subject: two\r\n\r\nbody\r\n")) {
		t.Errorf("Stat = %d, %d, %v", count, total, err)
	}
	if err := store.Expunge(ctx, "user"); err != nil {
		t.Fatalf("Expunge failed: %v", err)
	}

	s := openStore(t, path, opts)
	if !equalUIDs(uids(s), []uint32{2}) {
		t.Errorf("UIDs after expunge = %v", uids(s))
	}
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func TestMailboxStore_Errors(t *testing.T) {
	store := NewMailboxStore(t.TempDir(), "", "", testOptions(t))
	ctx := context.Background()

	if err := store.Deliver(ctx, mmdfstore.Envelope{}, strings.NewReader("x")); err != errors.ErrNoRecipients {
		t.Errorf("err = %v, want ErrNoRecipients", err)
	}
	env := mmdfstore.Envelope{Recipients: []string{"../x"}}
	if err := store.Deliver(ctx, env, strings.NewReader("x")); err != errors.ErrPathTraversal {
		t.Errorf("err = %v, want ErrPathTraversal", err)
	}
	env = mmdfstore.Envelope{Recipients: []string{"a"}}
	if err := store.Deliver(ctx, env, strings.NewReader("")); err != errors.ErrEmptyMessage {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := store.Deliver(cctx, env, strings.NewReader("x")); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	messages, err := store.List(ctx, "nobody")
	if err != nil || len(messages) != 0 {
		t.Errorf("List of missing mailbox = %v, %v", messages, err)
	}
	if _, err := store.Retrieve(ctx, "nobody", "1"); err != errors.ErrMailboxNotFound {
		t.Errorf("err = %v, want ErrMailboxNotFound", err)
	}
	for _, uid := range []string{"0", "abc", ""} {
		if _, err := store.Retrieve(ctx, "nobody", uid); !stderrors.Is(err, errors.ErrMessageNotFound) {
			t.Errorf("Retrieve(%q) err = %v, want ErrMessageNotFound", uid, err)
		}
	}
	if err := store.Expunge(ctx, "nobody"); err != nil {
		t.Errorf("Expunge without marks failed: %v", err)
	}
}

func TestMailboxStore_WriterActive(t *testing.T) {
	base := t.TempDir()
	opts := testOptions(t)
	store := NewMailboxStore(base, "", "", opts)
	ctx := context.Background()
	env := mmdfstore.Envelope{Recipients: []string{"user"}}
	if err := store.Deliver(ctx, env, strings.NewReader("Subject: a\n\nx\n")); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	holder := openStore(t, filepath.Join(base, "user"), opts)

	// Delivery only needs the content lock.
	if err := store.Deliver(ctx, env, strings.NewReader("Subject: b\n\ny\n")); err != nil {
		t.Fatalf("Deliver with active writer failed: %v", err)
	}
	messages, err := store.List(ctx, "user")
	if err != nil {
		t.Fatalf("List with active writer failed: %v", err)
	}
	if len(messages) != 2 {
		t.Errorf("List = %+v", messages)
	}
	if err := store.Delete(ctx, "user", "1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Expunge(ctx, "user"); err != errors.ErrMailboxLocked {
		t.Errorf("Expunge err = %v, want ErrMailboxLocked", err)
	}
	if holder.Len() != 1 {
		t.Errorf("holder Len = %d", holder.Len())
	}
}

func TestRegistered(t *testing.T) {
	if _, err := mmdfstore.Open(mmdfstore.StoreConfig{Type: "mmdf"}); err != errors.ErrStoreConfigInvalid {
		t.Errorf("err = %v, want ErrStoreConfigInvalid", err)
	}
	store, err := mmdfstore.Open(mmdfstore.StoreConfig{
		Type:     "mmdf",
		BasePath: t.TempDir(),
		Options:  map[string]string{"lock_dir": t.TempDir(), "silent": "true"},
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := store.(*MailboxStore); !ok {
		t.Errorf("store is %T", store)
	}
	if _, err := mmdfstore.Open(mmdfstore.StoreConfig{
		Type:     "mmdf",
		BasePath: t.TempDir(),
		Options:  map[string]string{"dotlock": "sometimes"},
	}); !stderrors.Is(err, errors.ErrStoreConfigInvalid) {
		t.Errorf("err = %v, want ErrStoreConfigInvalid", err)
	}
}
