//go:build !netbsd

package mmdf

import (
	"time"

	"golang.org/x/sys/unix"
)

func statAtime(st *unix.Stat_t) time.Time {
	return time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec))
}

func statMtime(st *unix.Stat_t) time.Time {
	return time.Unix(int64(st.Mtim.Sec), int64(st.Mtim.Nsec))
}
