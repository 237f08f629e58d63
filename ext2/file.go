package ext2

import (
	"fmt"
	"io"
)

// File represents a single regular file in a mounted filesystem. Reads walk
// the inode's direct blocks; a file whose data extends into the indirect
// pointers cannot be read and surfaces an error rather than truncating.
type File struct {
	*inode
	filesystem *FileSystem
	offset     int64
}

// Read reads up to len(b) bytes from the File.
// It returns the number of bytes read and any error encountered.
// At end of file, Read returns 0, io.EOF.
// Reads continue from the offset of the last read; use Seek() to set
// a particular point.
func (fl *File) Read(b []byte) (int, error) {
	var (
		fileSize  = int64(fl.effectiveSize())
		blocksize = int64(fl.filesystem.superblock.blockSize())
	)
	if fl.offset >= fileSize {
		return 0, io.EOF
	}

	bytesToRead := int64(len(b))
	if fl.offset+bytesToRead > fileSize {
		bytesToRead = fileSize - fl.offset
	}

	var readBytes int64
	for readBytes < bytesToRead {
		blockIndex := fl.offset / blocksize
		if blockIndex >= int64(directBlockPointers) {
			return int(readBytes), fmt.Errorf("%w: file extends into indirect blocks, which are not supported", ErrInvalidOperation)
		}
		offsetInBlock := fl.offset % blocksize
		toRead := bytesToRead - readBytes
		if left := blocksize - offsetInBlock; toRead > left {
			toRead = left
		}
		dst := b[readBytes : readBytes+toRead]
		blockNumber := fl.block[blockIndex]
		if blockNumber == 0 {
			// sparse: the hole reads as zeroes
			for i := range dst {
				dst[i] = 0
			}
		} else {
			offsetOnDisk := fl.filesystem.blockOffset(blockNumber) + offsetInBlock
			if err := fl.filesystem.readAt(dst, offsetOnDisk); err != nil {
				return int(readBytes), fmt.Errorf("failed to read block %d: %w", blockNumber, err)
			}
		}
		readBytes += toRead
		fl.offset += toRead
	}

	var err error
	if fl.offset >= fileSize {
		err = io.EOF
	}
	return int(readBytes), err
}

// Seek set the offset to a particular point in the file
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	newOffset := int64(0)
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = int64(fl.effectiveSize()) + offset
	case io.SeekCurrent:
		newOffset = fl.offset + offset
	}
	if newOffset < 0 {
		return fl.offset, fmt.Errorf("%w: cannot set offset %d before start of file", ErrInvalidOperation, offset)
	}
	fl.offset = newOffset
	return fl.offset, nil
}

// Size the byte size of the file
func (fl *File) Size() uint64 {
	return fl.effectiveSize()
}

// Close close a file that is being read
func (fl *File) Close() error {
	*fl = File{}
	return nil
}
