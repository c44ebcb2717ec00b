package dirfs

// Directory listing on Linux reads getdents64 records straight into a pooled
// buffer and parses them in place.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// linux_dirent64 layout:
//
//	d_ino    8 bytes  (offset 0)
//	d_off    8 bytes  (offset 8)
//	d_reclen 2 bytes  (offset 16)
//	d_type   1 byte   (offset 18)
//	d_name   NUL-terminated (offset 19)
const (
	direntReclenOffset = 16
	direntTypeOffset   = 18
	direntNameOffset   = 19

	direntBufSize = 32 << 10
)

var errInvalidDirent = errors.New("invalid dirent")

var direntBufs = sync.Pool{
	New: func() any {
		b := make([]byte, direntBufSize)
		return &b
	},
}

func (osFS) ReadDir(fd int) ([]DirEntry, error) {
	bufp := direntBufs.Get().(*[]byte)
	defer direntBufs.Put(bufp)
	buf := *bufp

	var entries []DirEntry
	for {
		n, err := unix.ReadDirent(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("getdents fd %d: %w", fd, err)
		}
		if n <= 0 {
			return entries, nil
		}
		if entries, err = parseDirents(fd, buf[:n], entries); err != nil {
			return nil, err
		}
	}
}

func parseDirents(fd int, data []byte, entries []DirEntry) ([]DirEntry, error) {
	for len(data) > 0 {
		if len(data) < direntNameOffset {
			return nil, errInvalidDirent
		}
		reclen := int(binary.NativeEndian.Uint16(data[direntReclenOffset:]))
		if reclen < direntNameOffset || reclen > len(data) {
			return nil, errInvalidDirent
		}
		rec := data[:reclen]
		data = data[reclen:]

		name := rec[direntNameOffset:]
		for i, b := range name {
			if b == 0 {
				name = name[:i]
				break
			}
		}
		if len(name) == 0 || isDotEntry(name) {
			continue
		}

		var isDir bool
		switch rec[direntTypeOffset] {
		case unix.DT_DIR:
			isDir = true
		case unix.DT_UNKNOWN:
			// Some filesystems do not fill d_type.
			if st, err := fstatat(fd, string(name)); err == nil {
				isDir = st.IsDir()
			}
		}
		entries = append(entries, DirEntry{Name: string(name), IsDir: isDir})
	}
	return entries, nil
}

func isDotEntry(name []byte) bool {
	return (len(name) == 1 && name[0] == '.') ||
		(len(name) == 2 && name[0] == '.' && name[1] == '.')
}
