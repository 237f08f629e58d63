package ext2

import (
	"fmt"
	"os"
)

type fileType uint16

const (
	// inode slots hold 15 block pointers: 12 direct, then single, double and
	// triple indirect
	totalBlockPointers  int = 15
	directBlockPointers int = 12
	// inodeDiskFields the classic record occupies the first 128 bytes of a slot
	inodeDiskFields int = 128

	fileTypeFifo            fileType = 0x1000
	fileTypeCharacterDevice fileType = 0x2000
	fileTypeDirectory       fileType = 0x4000
	fileTypeBlockDevice     fileType = 0x6000
	fileTypeRegularFile     fileType = 0x8000
	fileTypeSymbolicLink    fileType = 0xA000
	fileTypeSocket          fileType = 0xC000

	// rootInode inode 2 is always the root directory
	rootInode uint32 = 2

	// modes stamped on newly created objects
	newFileMode      uint16 = 0x81A4 // regular file, 0644
	newDirectoryMode uint16 = 0x4180 // directory, 0600
)

// inode is a structure holding the data of one inode record. Timestamps stay
// raw uint32 epoch seconds, as stored on disk.
type inode struct {
	number       uint32
	mode         uint16
	uid          uint16
	size         uint32
	accessTime   uint32
	changeTime   uint32
	modifyTime   uint32
	deletionTime uint32
	gid          uint16
	linksCount   uint16
	sectors      uint32
	flags        uint32
	osd1         uint32
	block        [15]uint32
	generation   uint32
	fileACL      uint32
	dirACL       uint32
	fragment     uint32
	osd2         [12]byte
}

func (in *inode) equal(a *inode) bool {
	if (in == nil && a != nil) || (a == nil && in != nil) {
		return false
	}
	if in == nil && a == nil {
		return true
	}
	return *in == *a
}

// inodeFromBytes create an inode struct from bytes
func inodeFromBytes(b []byte, number uint32) (*inode, error) {
	if len(b) < inodeDiskFields {
		return nil, fmt.Errorf("%w: inode data too short: %d bytes, must be min %d bytes", ErrInvalidInode, len(b), inodeDiskFields)
	}
	d := newDecoder(b)
	in := inode{number: number}
	in.mode = d.uint16()
	in.uid = d.uint16()
	in.size = d.uint32()
	in.accessTime = d.uint32()
	in.changeTime = d.uint32()
	in.modifyTime = d.uint32()
	in.deletionTime = d.uint32()
	in.gid = d.uint16()
	in.linksCount = d.uint16()
	in.sectors = d.uint32()
	in.flags = d.uint32()
	in.osd1 = d.uint32()
	for i := 0; i < totalBlockPointers; i++ {
		in.block[i] = d.uint32()
	}
	in.generation = d.uint32()
	in.fileACL = d.uint32()
	in.dirACL = d.uint32()
	in.fragment = d.uint32()
	copy(in.osd2[:], d.bytes(12))

	return &in, nil
}

// toBytes returns an inode ready to be written to disk, zero-padded to the
// given slot size
func (in *inode) toBytes(slotSize uint32) []byte {
	e := newEncoder(int(slotSize))
	e.putUint16(in.mode)
	e.putUint16(in.uid)
	e.putUint32(in.size)
	e.putUint32(in.accessTime)
	e.putUint32(in.changeTime)
	e.putUint32(in.modifyTime)
	e.putUint32(in.deletionTime)
	e.putUint16(in.gid)
	e.putUint16(in.linksCount)
	e.putUint32(in.sectors)
	e.putUint32(in.flags)
	e.putUint32(in.osd1)
	for i := 0; i < totalBlockPointers; i++ {
		e.putUint32(in.block[i])
	}
	e.putUint32(in.generation)
	e.putUint32(in.fileACL)
	e.putUint32(in.dirACL)
	e.putUint32(in.fragment)
	e.putBytes(in.osd2[:])

	return e.bytes()
}

// parseFileType from the uint16 mode. The mode is built of the bottom 12 bits
// being "any of" several permissions, and thus resolved via AND, while the top
// 4 bits are "only one of" several types, and thus resolved via just equal.
func parseFileType(mode uint16) fileType {
	return fileType(mode & 0xF000)
}

func (in *inode) isFile() bool {
	return parseFileType(in.mode) == fileTypeRegularFile
}

func (in *inode) isDirectory() bool {
	return parseFileType(in.mode) == fileTypeDirectory
}

func (in *inode) isSymlink() bool {
	return parseFileType(in.mode) == fileTypeSymbolicLink
}

// effectiveSize the full byte size of the object. For regular files dirACL
// holds the upper 32 bits; for directories it really is an ACL block, so only
// the low word counts.
func (in *inode) effectiveSize() uint64 {
	if in.isDirectory() {
		return uint64(in.size)
	}
	return uint64(in.dirACL)<<32 | uint64(in.size)
}

// permissionsToMode maps the low mode bits onto an os.FileMode for Stat
func (in *inode) permissionsToMode() os.FileMode {
	mode := os.FileMode(in.mode & 0o777)
	switch parseFileType(in.mode) {
	case fileTypeDirectory:
		mode |= os.ModeDir
	case fileTypeSymbolicLink:
		mode |= os.ModeSymlink
	case fileTypeCharacterDevice:
		mode |= os.ModeDevice | os.ModeCharDevice
	case fileTypeBlockDevice:
		mode |= os.ModeDevice
	case fileTypeFifo:
		mode |= os.ModeNamedPipe
	case fileTypeSocket:
		mode |= os.ModeSocket
	}
	return mode
}
