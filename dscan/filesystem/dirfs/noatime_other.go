//go:build unix && !linux && !aix

package dirfs

const openNoATime = 0
