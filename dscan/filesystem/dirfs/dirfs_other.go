//go:build !unix || aix

package dirfs

func (osFS) Open(string) (int, error)          { return -1, errUnsupported }
func (osFS) OpenAt(int, string) (int, error)   { return -1, errUnsupported }
func (osFS) Close(int) error                   { return errUnsupported }
func (osFS) Fstat(int) (Stat, error)           { return Stat{}, errUnsupported }
func (osFS) FstatAt(int, string) (Stat, error) { return Stat{}, errUnsupported }
func (osFS) ReadDir(int) ([]DirEntry, error)   { return nil, errUnsupported }

// Lstat is unsupported off unix.
func Lstat(string) (Stat, error) { return Stat{}, errUnsupported }

// IsNotExist is always false off unix.
func IsNotExist(error) bool { return false }
