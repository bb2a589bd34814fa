package mmdf

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/infodancer/mmdfstore/errors"
)

// Validate checks that path is an MMDF mailbox: a regular file that is
// empty or starts with the sentinel. Reading the file does not change its
// access time as seen by new-mail checkers.
func Validate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.ErrMailboxNotFound
		}
		return fmt.Errorf("open mailbox: %w", err)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat mailbox: %w", err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", errors.ErrInvalidName, path)
	}
	if fi.Size() == 0 {
		return nil
	}
	atime, mtime, terr := fileTimes(f)
	buf := make([]byte, sentinelLen)
	n, err := io.ReadFull(f, buf)
	if terr == nil {
		_ = os.Chtimes(path, atime, mtime)
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("read mailbox: %w", err)
	}
	if !isSentinel(buf[:n]) {
		return errors.ErrNotMMDF
	}
	return nil
}

// IsValid reports whether path is an MMDF mailbox.
func IsValid(path string) bool {
	return Validate(path) == nil
}

// Create makes a new empty mailbox at path, creating missing parent
// directories. The file holds only the hidden placeholder record with a new
// UID validity and the default keywords. A path ending in a slash creates
// just the directory.
func Create(path string, opts Options) error {
	opts = opts.withDefaults()
	if path == "" {
		return errors.ErrInvalidName
	}
	if strings.HasSuffix(path, "/") {
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	var table keywordTable
	for _, kw := range opts.DefaultKeywords {
		if _, err := table.add(kw); err != nil {
			return fmt.Errorf("default keyword %q: %w", kw, err)
		}
	}
	now := opts.Now()
	data := renderPlaceholder(now, opts.Host, uidBase{validity: uint32(now.Unix())}, &table)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			return errors.ErrMailboxExists
		}
		return fmt.Errorf("create mailbox: %w", err)
	}
	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write mailbox: %w", err)
	}
	if !opts.Silent {
		opts.Logger.Info("mailbox created", slog.String("path", path))
	}
	return nil
}

// Delete removes the mailbox at path. It fails with ErrMailboxLocked while
// another process has write access.
func Delete(path string, opts Options) error {
	return rename(path, "", opts)
}

// Rename moves the mailbox at oldPath to newPath, creating missing parent
// directories. It fails with ErrMailboxLocked while another process has
// write access and with ErrMailboxExists when newPath is taken.
func Rename(oldPath, newPath string, opts Options) error {
	if newPath == "" {
		return errors.ErrInvalidName
	}
	return rename(oldPath, newPath, opts)
}

// rename deletes the mailbox when newPath is empty.
func rename(oldPath, newPath string, opts Options) error {
	opts = opts.withDefaults()
	if err := Validate(oldPath); err != nil {
		return err
	}
	marker, err := checkMarkerFree(opts.LockDir, oldPath)
	if err != nil {
		return err
	}
	defer marker.release()

	cl, err := lockFile(oldPath, os.O_RDWR, 0, unix.LOCK_EX, opts.DotLock, opts.Logger)
	if err != nil {
		return fmt.Errorf("lock mailbox: %w", err)
	}
	defer func() { _ = cl.close() }()

	log := opts.Logger.With(slog.String("path", oldPath))
	if newPath == "" {
		if err := os.Remove(oldPath); err != nil {
			return fmt.Errorf("delete mailbox: %w", err)
		}
		if !opts.Silent {
			log.Info("mailbox deleted")
		}
		return nil
	}
	if _, err := os.Lstat(newPath); err == nil {
		return errors.ErrMailboxExists
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename mailbox: %w", err)
	}
	if !opts.Silent {
		log.Info("mailbox renamed", slog.String("new_path", newPath))
	}
	return nil
}
