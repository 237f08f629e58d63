package ext2

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ext2/util/bitmap"
)

// allocKind selects which of a group's two allocation maps an operation works
// on
type allocKind int

const (
	allocBlock allocKind = iota
	allocInode
)

func (k allocKind) String() string {
	if k == allocInode {
		return "inode"
	}
	return "block"
}

// readBitmap reads the one-block allocation map stored at the given block
func (fs *FileSystem) readBitmap(location uint32) (*bitmap.Bitmap, error) {
	b, err := fs.readBlock(location)
	if err != nil {
		return nil, err
	}
	return bitmap.FromBytes(b), nil
}

// writeBitmap writes an allocation map back to its block. Bitmap writes are
// issued immediately, never batched until sync, so an id handed out once
// cannot be handed out again across a failure.
func (fs *FileSystem) writeBitmap(location uint32, bm *bitmap.Bitmap) error {
	return fs.writeBlock(location, bm.ToBytes())
}

// bitmapLocation which block holds the group's map for this kind
func (gd *groupDescriptor) bitmapLocation(kind allocKind) uint32 {
	if kind == allocInode {
		return gd.inodeBitmapLocation
	}
	return gd.blockBitmapLocation
}

// perGroup how many ids of this kind each group covers
func (fs *FileSystem) perGroup(kind allocKind) uint32 {
	if kind == allocInode {
		return fs.superblock.inodesPerGroup
	}
	return fs.superblock.blocksPerGroup
}

// globalID maps a (group, index-in-group) pair to the global identifier.
// Inode numbers are 1-based; block numbers in group 0 are offset by the
// first data block.
func (fs *FileSystem) globalID(kind allocKind, group, index uint32) uint32 {
	if kind == allocInode {
		return group*fs.superblock.inodesPerGroup + index + 1
	}
	id := group*fs.superblock.blocksPerGroup + index
	if group == 0 {
		id += fs.superblock.firstDataBlock
	}
	return id
}

// groupIndex inverts globalID, validating the id's range
func (fs *FileSystem) groupIndex(kind allocKind, id uint32) (group, index uint32, err error) {
	if kind == allocInode {
		if id == 0 || id > fs.superblock.inodeCount {
			return 0, 0, fmt.Errorf("%w: inode number %d out of range", ErrInvalidInode, id)
		}
		return (id - 1) / fs.superblock.inodesPerGroup, (id - 1) % fs.superblock.inodesPerGroup, nil
	}
	if id < fs.superblock.firstDataBlock || id >= fs.superblock.blockCount {
		return 0, 0, fmt.Errorf("%w: block number %d out of range", ErrInvalidBlock, id)
	}
	offset := id - fs.superblock.firstDataBlock
	return offset / fs.superblock.blocksPerGroup, offset % fs.superblock.blocksPerGroup, nil
}

// allocate hands out the first free id of the given kind: groups are scanned
// ascending, and within a group the whole map is read once and the lowest
// clear bit within the valid range taken. The bit flip, the bitmap write,
// and the group and superblock free counters move together.
func (fs *FileSystem) allocate(kind allocKind) (uint32, error) {
	valid := int(fs.perGroup(kind))
	for g := range fs.groupDescriptors.descriptors {
		gd := &fs.groupDescriptors.descriptors[g]
		location := gd.bitmapLocation(kind)
		bm, err := fs.readBitmap(location)
		if err != nil {
			return 0, fmt.Errorf("failed to read group %d %s bitmap: %w", g, kind, err)
		}
		index := bm.FirstFree(0)
		if index < 0 || index >= valid {
			continue
		}
		if err := bm.Set(index); err != nil {
			return 0, fmt.Errorf("%w: group %d %s bitmap: %v", ErrInvalidBlockGroup, g, kind, err)
		}
		if err := fs.writeBitmap(location, bm); err != nil {
			return 0, fmt.Errorf("failed to write group %d %s bitmap: %w", g, kind, err)
		}
		if kind == allocInode {
			gd.freeInodes--
			fs.superblock.freeInodes--
		} else {
			gd.freeBlocks--
			fs.superblock.freeBlocks--
		}
		id := fs.globalID(kind, uint32(g), uint32(index))
		log.Debugf("allocated %s %d from group %d", kind, id, g)
		return id, nil
	}
	return 0, fmt.Errorf("%w: no free %ss available", ErrNoSpace, kind)
}

// free releases an id of the given kind: the inverse mapping locates the
// group and bit, the id must currently be marked in use, and the counters
// move with the bit.
func (fs *FileSystem) free(kind allocKind, id uint32) error {
	group, index, err := fs.groupIndex(kind, id)
	if err != nil {
		return err
	}
	if group >= uint32(len(fs.groupDescriptors.descriptors)) {
		return fmt.Errorf("%w: group index %d out of range", ErrInvalidBlockGroup, group)
	}
	gd := &fs.groupDescriptors.descriptors[group]
	location := gd.bitmapLocation(kind)
	bm, err := fs.readBitmap(location)
	if err != nil {
		return fmt.Errorf("failed to read group %d %s bitmap: %w", group, kind, err)
	}
	inUse, err := bm.IsSet(int(index))
	if err != nil {
		return fmt.Errorf("%w: group %d %s bitmap: %v", ErrInvalidBlockGroup, group, kind, err)
	}
	if !inUse {
		return fmt.Errorf("%w: %s %d is already free", ErrInvalidOperation, kind, id)
	}
	if err := bm.Clear(int(index)); err != nil {
		return fmt.Errorf("%w: group %d %s bitmap: %v", ErrInvalidBlockGroup, group, kind, err)
	}
	if err := fs.writeBitmap(location, bm); err != nil {
		return fmt.Errorf("failed to write group %d %s bitmap: %w", group, kind, err)
	}
	if kind == allocInode {
		gd.freeInodes++
		fs.superblock.freeInodes++
	} else {
		gd.freeBlocks++
		fs.superblock.freeBlocks++
	}
	log.Debugf("freed %s %d in group %d", kind, id, group)
	return nil
}

// allocateBlock returns the global number of a newly allocated block
func (fs *FileSystem) allocateBlock() (uint32, error) {
	return fs.allocate(allocBlock)
}

// allocateInode returns the number of a newly allocated inode
func (fs *FileSystem) allocateInode() (uint32, error) {
	return fs.allocate(allocInode)
}

// freeBlock releases a block by global number
func (fs *FileSystem) freeBlock(number uint32) error {
	return fs.free(allocBlock, number)
}

// freeInode releases an inode by number
func (fs *FileSystem) freeInode(number uint32) error {
	return fs.free(allocInode, number)
}
