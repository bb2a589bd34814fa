package mmdf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/infodancer/mmdfstore/errors"
)

// markerLock is held by the one process with write access to a mailbox.
// The file is named after the device and inode of the mailbox so that all
// names of the mailbox share it, and it records the holder's PID.
type markerLock struct {
	path string
	f    *os.File
}

// markerPath returns the marker lock file name for the mailbox at path.
func markerPath(dir, path string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf(".%x.%x", uint64(st.Dev), uint64(st.Ino))), nil
}

// tryMarker tries once to take the marker lock. When the lock is held by
// another process, it returns a nil lock and the PID recorded by the
// holder, or 0 when none is recorded.
func tryMarker(name string) (*markerLock, int, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, 0, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		buf := make([]byte, 32)
		n, _ := f.ReadAt(buf, 0)
		_ = f.Close()
		if err != unix.EWOULDBLOCK {
			return nil, 0, fmt.Errorf("flock: %w", err)
		}
		pid, _ := strconv.Atoi(string(bytes.TrimRight(buf[:n], "\x00\n ")))
		return nil, pid, nil
	}
	return &markerLock{path: name, f: f}, 0, nil
}

// record writes pid into the marker, or empties it when pid is 0.
func (m *markerLock) record(pid int) {
	var s string
	if pid != 0 {
		s = strconv.Itoa(pid)
	}
	_, _ = m.f.WriteAt([]byte(s), 0)
	_ = m.f.Truncate(int64(len(s)))
	_ = m.f.Sync()
	_ = os.Chmod(m.path, 0666)
}

// release unlocks and removes the marker.
func (m *markerLock) release() {
	if m == nil || m.f == nil {
		return
	}
	_ = unix.Flock(int(m.f.Fd()), unix.LOCK_UN)
	_ = m.f.Close()
	_ = os.Remove(m.path)
	m.f = nil
}

// acquireMarker runs the write access protocol for path. It returns a nil
// lock when write access could not be had and the store must be read-only.
// The first failed attempt asks the recorded holder to give up its access;
// without a recorded holder there is nobody to ask and the loop ends.
func acquireMarker(path string, opts Options) (*markerLock, error) {
	name, err := markerPath(opts.LockDir, path)
	if err != nil {
		return nil, err
	}
	log := opts.Logger.With(slog.String("path", path))
	retry := opts.Retries
	if opts.Silent {
		retry = 1
	}
	first := true
	for retry > 0 {
		m, pid, err := tryMarker(name)
		if err != nil {
			return nil, err
		}
		if m != nil {
			if opts.Silent {
				m.record(0)
			} else {
				m.record(os.Getpid())
			}
			if !first {
				metricLockContention.WithLabelValues("acquired").Inc()
			}
			return m, nil
		}
		retry--
		if first && !opts.Silent {
			if pid != 0 {
				if err := opts.Relinquisher.Relinquish(pid); err != nil {
					log.Debug("relinquish request failed", slog.Int("pid", pid), slog.String("error", err.Error()))
				}
				log.Warn("trying to get mailbox lock from process", slog.Int("pid", pid))
			} else {
				retry = 0
			}
		}
		first = false
		if !opts.Silent {
			if retry > 0 {
				time.Sleep(opts.RetryDelay)
			} else {
				log.Warn("mailbox is open by another process, access is readonly")
			}
		}
	}
	metricLockContention.WithLabelValues("readonly").Inc()
	return nil, nil
}

// ReadOnlyRequester is implemented by [Store].
type ReadOnlyRequester interface {
	RequestReadOnly()
}

// ListenRelinquish turns SIGUSR2, sent by [SignalRelinquisher] in another
// process, into a read-only request on s until ctx is done. The store gives
// up write access on its next [Store.Ping].
func ListenRelinquish(ctx context.Context, s ReadOnlyRequester) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGUSR2)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				s.RequestReadOnly()
			}
		}
	}()
}

// checkMarkerFree fails with ErrMailboxLocked when a process holds write
// access to path. On success the caller owns the returned lock.
func checkMarkerFree(dir, path string) (*markerLock, error) {
	name, err := markerPath(dir, path)
	if err != nil {
		return nil, err
	}
	m, _, err := tryMarker(name)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.ErrMailboxLocked
	}
	return m, nil
}
