package mmdf

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// dotlockStale is the age after which a dot-lock is broken.
	dotlockStale = 5 * time.Minute
	// dotlockPoll is the wait between attempts to create a dot-lock.
	dotlockPoll = time.Second
)

// contentLock is a locked descriptor of a mailbox file: a flock(2) lock on
// the descriptor plus an optional <mailbox>.lock file.
type contentLock struct {
	f       *os.File
	dotlock string // empty when no dot-lock is held
}

// lockFile opens path with flag and locks it with how (LOCK_SH or LOCK_EX).
// Blocks until the lock is granted.
func lockFile(path string, flag int, perm os.FileMode, how int, dotlock bool, logger *slog.Logger) (*contentLock, error) {
	cl := &contentLock{}
	if dotlock {
		name, err := acquireDotlock(path, logger)
		if err != nil {
			logger.Debug("dot-lock skipped", slog.String("path", path), slog.String("error", err.Error()))
		}
		cl.dotlock = name
	}
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		cl.releaseDotlock()
		return nil, err
	}
	if err := flock(f, how); err != nil {
		_ = f.Close()
		cl.releaseDotlock()
		return nil, fmt.Errorf("flock: %w", err)
	}
	cl.f = f
	return cl, nil
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}

// acquireDotlock creates path.lock, waiting for a fresh lock held by
// someone else to go away and breaking it once it is stale. An error means
// no dot-lock could be made, which is not fatal.
func acquireDotlock(path string, logger *slog.Logger) (string, error) {
	name := path + ".lock"
	for {
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d", os.Getpid())
			_ = f.Close()
			return name, nil
		}
		if !stderrors.Is(err, fs.ErrExist) {
			return "", err
		}
		fi, err := os.Stat(name)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", err
		}
		if time.Since(fi.ModTime()) > dotlockStale {
			logger.Warn("breaking stale dot-lock", slog.String("lockfile", name))
			if err := os.Remove(name); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
				return "", err
			}
			continue
		}
		time.Sleep(dotlockPoll)
	}
}

func (cl *contentLock) releaseDotlock() {
	if cl.dotlock != "" {
		_ = os.Remove(cl.dotlock)
		cl.dotlock = ""
	}
}

// unlock releases the flock and the dot-lock. The descriptor stays open.
func (cl *contentLock) unlock() {
	if cl.f != nil {
		_ = unix.Flock(int(cl.f.Fd()), unix.LOCK_UN)
	}
	cl.releaseDotlock()
}

// close unlocks and closes the descriptor.
func (cl *contentLock) close() error {
	cl.unlock()
	if cl.f == nil {
		return nil
	}
	err := cl.f.Close()
	cl.f = nil
	return err
}

// fileTimes returns the access and modification time of f.
func fileTimes(f *os.File) (atime, mtime time.Time, err error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return statAtime(&st), statMtime(&st), nil
}

// touchForReader makes a mailbox look read: if the access time is not
// after the modification time, set the access time to now and move the
// modification time back before it. Returns the modification time set, or
// the zero time when nothing changed.
func touchForReader(path string, f *os.File, now time.Time) time.Time {
	atime, mtime, err := fileTimes(f)
	if err != nil || atime.Unix() > mtime.Unix() {
		return time.Time{}
	}
	now = now.Truncate(time.Second)
	newM := mtime.Truncate(time.Second)
	if !now.After(newM) {
		newM = now.Add(-time.Second)
	}
	if err := os.Chtimes(path, now, newM); err != nil {
		return time.Time{}
	}
	return newM
}
