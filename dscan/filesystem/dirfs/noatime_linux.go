package dirfs

import "golang.org/x/sys/unix"

const openNoATime = unix.O_NOATIME
