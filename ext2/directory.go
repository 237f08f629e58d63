package ext2

import (
	"encoding/binary"
	"fmt"
)

// Directory is the pairing of a directory's inode with the entries decoded
// from its direct data blocks
type Directory struct {
	inode   *inode
	number  uint32
	entries []*directoryEntry
}

// Entries lists the live entries in directory order
func (dir *Directory) Entries() []DirectoryEntry {
	out := make([]DirectoryEntry, 0, len(dir.entries))
	for _, de := range dir.entries {
		out = append(out, DirectoryEntry{
			Inode:    de.inode,
			FileType: de.fileType,
			Name:     de.displayName(),
		})
	}
	return out
}

// DirectoryEntry is the exported view of one live directory entry
type DirectoryEntry struct {
	Inode    uint32
	FileType uint8
	Name     string
}

// find returns the first live entry whose name equals the query byte-for-byte,
// or nil
func (dir *Directory) find(name string) *directoryEntry {
	for _, de := range dir.entries {
		if de.name == name {
			return de
		}
	}
	return nil
}

// countsAsContent reports whether an entry blocks a non-forced directory
// removal
func countsAsContent(name string) bool {
	return name != "." && name != ".."
}

// parseDirectoryEntries walks one directory data block. Deleted slots advance
// by their recLen, or by the header size when recLen is 0, to tolerate
// corruption; a zero recLen on a live entry stops the walk.
func parseDirectoryEntries(b []byte) ([]*directoryEntry, error) {
	var entries []*directoryEntry
	for offset := 0; offset+directoryEntryHeaderSize <= len(b); {
		de, err := directoryEntryFromBytes(b[offset:])
		if err != nil {
			return nil, err
		}
		if de.inode == 0 {
			if de.recLen == 0 {
				offset += directoryEntryHeaderSize
				continue
			}
			offset += int(de.recLen)
			continue
		}
		if de.recLen == 0 {
			break
		}
		entries = append(entries, de)
		offset += int(de.recLen)
	}
	return entries, nil
}

// encodeDirectoryEntries serializes entries into exactly one block. Each
// entry's stride is its minimum record length; the last entry's recLen
// consumes the remainder of the block, and any tail is zero fill.
func encodeDirectoryEntries(entries []*directoryEntry, blockSize uint32) ([]byte, error) {
	e := newEncoder(int(blockSize))
	var used uint16
	for i, de := range entries {
		recLen := de.minRecLen()
		if i == len(entries)-1 {
			if int(used)+int(recLen) > int(blockSize) {
				return nil, fmt.Errorf("%w: %d entries overflow a %d byte block", ErrInvalidDirectory, len(entries), blockSize)
			}
			recLen = uint16(blockSize) - used
		}
		if int(used)+int(recLen) > int(blockSize) {
			return nil, fmt.Errorf("%w: %d entries overflow a %d byte block", ErrInvalidDirectory, len(entries), blockSize)
		}
		out := directoryEntry{
			inode:    de.inode,
			recLen:   recLen,
			fileType: de.fileType,
			name:     de.name,
		}
		e.putBytes(out.toBytes())
		used += recLen
	}
	if e.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDirectory, e.err)
	}
	return e.bytes(), nil
}

// insertEntryIntoBlock places a new entry inside an existing directory block
// by splitting the first live entry whose recLen exceeds its own minimum by
// at least the new entry's minimum. The block is modified in place; live
// entries never move. Returns false when no entry has enough slack.
func insertEntryIntoBlock(b []byte, inodeNumber uint32, name string, fileType uint8) bool {
	need := int(minRecLenForName(len(name)))
	for offset := 0; offset+directoryEntryHeaderSize <= len(b); {
		entryInode := binary.LittleEndian.Uint32(b[offset : offset+4])
		recLen := int(binary.LittleEndian.Uint16(b[offset+4 : offset+6]))
		nameLen := int(b[offset+6])
		if recLen == 0 || offset+recLen > len(b) {
			return false
		}
		if entryInode == 0 {
			offset += recLen
			continue
		}
		min := int(minRecLenForName(nameLen))
		if recLen-min >= need {
			// shrink this entry to its minimum and hand the freed tail
			// to the new one
			binary.LittleEndian.PutUint16(b[offset+4:offset+6], uint16(min))
			de := directoryEntry{
				inode:    inodeNumber,
				recLen:   uint16(recLen - min),
				fileType: fileType,
				name:     name,
			}
			copy(b[offset+min:offset+recLen], de.toBytes())
			return true
		}
		offset += recLen
	}
	return false
}

// removeEntryFromBlock marks the named entry deleted in place by zeroing its
// inode field, then merges its space into the previous live entry: the
// previous recLen absorbs the deleted record, or extends to the end of the
// block when the deleted entry was last. Returns false when the name is not
// in this block.
func removeEntryFromBlock(b []byte, name string) bool {
	prevLive := -1
	for offset := 0; offset+directoryEntryHeaderSize <= len(b); {
		entryInode := binary.LittleEndian.Uint32(b[offset : offset+4])
		recLen := int(binary.LittleEndian.Uint16(b[offset+4 : offset+6]))
		nameLen := int(b[offset+6])
		if recLen == 0 || offset+recLen > len(b) {
			return false
		}
		if entryInode != 0 && nameLen == len(name) &&
			offset+directoryEntryHeaderSize+nameLen <= len(b) &&
			string(b[offset+directoryEntryHeaderSize:offset+directoryEntryHeaderSize+nameLen]) == name {
			binary.LittleEndian.PutUint32(b[offset:offset+4], 0)
			if prevLive >= 0 {
				if offset+recLen >= len(b) {
					binary.LittleEndian.PutUint16(b[prevLive+4:prevLive+6], uint16(len(b)-prevLive))
				} else {
					prevRecLen := binary.LittleEndian.Uint16(b[prevLive+4 : prevLive+6])
					binary.LittleEndian.PutUint16(b[prevLive+4:prevLive+6], prevRecLen+uint16(recLen))
				}
			}
			return true
		}
		if entryInode != 0 {
			prevLive = offset
		}
		offset += recLen
	}
	return false
}

// newDirectoryBlock builds the initial data block of a directory: "."
// pointing at itself with the minimum record, and ".." pointing at the parent
// spanning the rest of the block
func newDirectoryBlock(blockSize uint32, self, parent uint32) []byte {
	dot := directoryEntry{
		inode:    self,
		recLen:   minRecLenForName(1),
		fileType: dirFileTypeDirectory,
		name:     ".",
	}
	dotdot := directoryEntry{
		inode:    parent,
		recLen:   uint16(blockSize) - dot.recLen,
		fileType: dirFileTypeDirectory,
		name:     "..",
	}
	e := newEncoder(int(blockSize))
	e.putBytes(dot.toBytes())
	e.putBytes(dotdot.toBytes())
	return e.bytes()
}
