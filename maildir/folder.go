package maildir

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/emersion/go-maildir"

	"github.com/infodancer/mmdfstore/errors"
)

// Folder is a Maildir directory.
type Folder struct {
	dir maildir.Dir
}

// MessageInfo describes a message in a Folder.
type MessageInfo struct {
	Key    string
	Flags  []string // IMAP names
	Recent bool     // still in new/
	Size   int64
}

// IsMaildir reports whether path has the Maildir structure.
func IsMaildir(path string) bool {
	for _, sub := range []string{"new", "cur", "tmp"} {
		info, err := os.Stat(filepath.Join(path, sub))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

// Open returns the Folder at path. A missing Maildir is ErrMailboxNotFound.
func Open(path string) (*Folder, error) {
	if !IsMaildir(path) {
		return nil, errors.ErrMailboxNotFound
	}
	return &Folder{dir: maildir.Dir(path)}, nil
}

// Create makes the Maildir structure at path, including missing parents,
// and returns the Folder.
func Create(path string) (*Folder, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}
	dir := maildir.Dir(path)
	if err := dir.Init(); err != nil {
		return nil, err
	}
	return &Folder{dir: dir}, nil
}

// Path returns the directory of the folder.
func (f *Folder) Path() string {
	return string(f.dir)
}

// Deliver stores msg with the given IMAP flags and returns its key.
func (f *Folder) Deliver(msg []byte, flags []string) (string, error) {
	mflags := toMaildirFlags(flags)
	if len(mflags) == 0 {
		return f.deliverNew(msg)
	}
	m, w, err := f.dir.Create(mflags)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(w, bytes.NewReader(msg)); err != nil {
		_ = w.Close()
		_ = m.Remove()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return m.Key(), nil
}

// deliverNew writes msg to new/ through the tmp/ rename protocol.
func (f *Folder) deliverNew(msg []byte) (string, error) {
	before, err := f.newKeys()
	if err != nil {
		return "", err
	}
	delivery, err := maildir.NewDelivery(string(f.dir))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(delivery, bytes.NewReader(msg)); err != nil {
		_ = delivery.Abort()
		return "", err
	}
	if err := delivery.Close(); err != nil {
		return "", err
	}
	after, err := f.newKeys()
	if err != nil {
		return "", err
	}
	for name := range after {
		if !before[name] {
			return name, nil
		}
	}
	return "", nil
}

func (f *Folder) newKeys() (map[string]bool, error) {
	entries, err := os.ReadDir(filepath.Join(string(f.dir), "new"))
	if err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			keys[e.Name()] = true
		}
	}
	return keys, nil
}

// Messages lists the folder without moving anything out of new/.
func (f *Folder) Messages() ([]MessageInfo, error) {
	var out []MessageInfo
	recent, err := f.newKeys()
	if err != nil {
		return nil, err
	}
	for name := range recent {
		fi, err := os.Stat(filepath.Join(string(f.dir), "new", name))
		if err != nil {
			continue
		}
		out = append(out, MessageInfo{Key: name, Recent: true, Size: fi.Size()})
	}
	msgs, err := f.dir.Messages()
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		fi, err := os.Stat(m.Filename())
		if err != nil {
			continue
		}
		out = append(out, MessageInfo{
			Key:   m.Key(),
			Flags: fromMaildirFlags(m.Flags()),
			Size:  fi.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ReadMessage returns the content of the message stored under key in cur/.
func (f *Folder) ReadMessage(key string) ([]byte, error) {
	m, err := f.dir.MessageByKey(key)
	if err != nil {
		return nil, errors.ErrMessageNotFound
	}
	rc, err := m.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

var flagMap = []struct {
	imap string
	md   maildir.Flag
}{
	{`\Seen`, maildir.FlagSeen},
	{`\Answered`, maildir.FlagReplied},
	{`\Flagged`, maildir.FlagFlagged},
	{`\Draft`, maildir.FlagDraft},
	{`\Deleted`, maildir.FlagTrashed},
}

func toMaildirFlags(flags []string) []maildir.Flag {
	var out []maildir.Flag
	for _, name := range flags {
		for _, fm := range flagMap {
			if name == fm.imap {
				out = append(out, fm.md)
			}
		}
	}
	return out
}

// fromMaildirFlags converts go-maildir flags to IMAP flag strings.
func fromMaildirFlags(flags []maildir.Flag) []string {
	var out []string
	for _, f := range flags {
		for _, fm := range flagMap {
			if f == fm.md {
				out = append(out, fm.imap)
			}
		}
	}
	return out
}
