//go:build unix && !aix

package dirfs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const dirOpenFlags = unix.O_RDONLY | unix.O_DIRECTORY | unix.O_CLOEXEC

func (osFS) Open(path string) (int, error) {
	return openDir(unix.AT_FDCWD, path, dirOpenFlags)
}

func (osFS) OpenAt(dirfd int, name string) (int, error) {
	return openDir(dirfd, name, dirOpenFlags|unix.O_NOFOLLOW)
}

// openDir retries on EINTR. O_NOATIME is only permitted to the file owner,
// so EPERM falls back to a plain open.
func openDir(dirfd int, name string, flags int) (int, error) {
	withATime := flags | openNoATime
	for {
		fd, err := unix.Openat(dirfd, name, withATime, 0)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EPERM && withATime != flags {
			withATime = flags
			continue
		}
		if err != nil {
			return -1, fmt.Errorf("openat %q: %w", name, err)
		}
		return fd, nil
	}
}

func (osFS) Close(fd int) error {
	// close(2) is not retried on EINTR.
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close fd %d: %w", fd, err)
	}
	return nil
}

func (osFS) Fstat(fd int) (Stat, error) {
	var st unix.Stat_t
	for {
		err := unix.Fstat(fd, &st)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Stat{}, fmt.Errorf("fstat fd %d: %w", fd, err)
		}
		return fromUnix(&st), nil
	}
}

func (osFS) FstatAt(dirfd int, name string) (Stat, error) {
	return fstatat(dirfd, name)
}

func fstatat(dirfd int, name string) (Stat, error) {
	var st unix.Stat_t
	for {
		err := unix.Fstatat(dirfd, name, &st, unix.AT_SYMLINK_NOFOLLOW)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Stat{}, fmt.Errorf("fstatat %q: %w", name, err)
		}
		return fromUnix(&st), nil
	}
}

// Lstat stats path without following a trailing symlink.
func Lstat(path string) (Stat, error) {
	return fstatat(unix.AT_FDCWD, path)
}

// IsNotExist reports whether err means the path is gone.
func IsNotExist(err error) bool {
	return errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENOTDIR)
}

func fromUnix(st *unix.Stat_t) Stat {
	sec, nsec := mtime(st)
	return Stat{
		Dev:       uint64(st.Dev),
		Ino:       uint64(st.Ino),
		Mode:      uint32(st.Mode),
		GID:       st.Gid,
		Size:      st.Size,
		MtimeSec:  sec,
		MtimeNsec: nsec,
	}
}
