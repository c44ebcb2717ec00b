//go:build linux || freebsd || openbsd || dragonfly || solaris || illumos

package dirfs

import "golang.org/x/sys/unix"

func mtime(st *unix.Stat_t) (int64, int64) {
	return st.Mtim.Unix()
}
