package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// BLKGETSIZE64 get the byte size of a block device
const blkGetSize64 = 0x80081272

func deviceSize(f *os.File) (int64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), blkGetSize64)
	if err != nil {
		return 0, err
	}
	return int64(size), nil
}
