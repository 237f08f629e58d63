package ext2

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type filesystemState uint16
type errorBehaviour uint16

const (
	// superblockSignature is the signature for every superblock
	superblockSignature uint16 = 0xef53
	// superblockOffset primary superblock location, in bytes from the start of the image
	superblockOffset int64 = 1024
	// superblockSize bytes reserved on disk for the superblock
	superblockSize int = 1024
	// states for the filesystem
	fsStateCleanlyUnmounted filesystemState = 0x0001
	fsStateErrors           filesystemState = 0x0002
	// how to handle errors
	errorsContinue        errorBehaviour = 1
	errorsRemountReadOnly errorBehaviour = 2
	errorsPanic           errorBehaviour = 3
	// filesystem revisions
	revisionOriginal uint32 = 0
	revisionDynamic  uint32 = 1
	// inode slot size when the superblock does not carry one
	defaultInodeSize uint16 = 256
)

// backupSuperblockGroups the classical backup locations. The sparse-superblock
// placement policy beyond this subset is out of scope; only members that
// actually exist in the image are written.
var backupSuperblockGroups = []uint32{1, 3, 5, 7}

// superblock is a structure holding the ext2 superblock
type superblock struct {
	inodeCount         uint32
	blockCount         uint32
	reservedBlocks     uint32
	freeBlocks         uint32
	freeInodes         uint32
	firstDataBlock     uint32
	logBlockSize       uint32
	logFragmentSize    int32
	blocksPerGroup     uint32
	fragmentsPerGroup  uint32
	inodesPerGroup     uint32
	mountTime          time.Time
	writeTime          time.Time
	mountCount         uint16
	mountsToFsck       uint16
	state              filesystemState
	errorBehaviour     errorBehaviour
	minorRevision      uint16
	lastCheck          time.Time
	checkInterval      uint32
	creatorOS          uint32
	revisionLevel      uint32
	reservedBlocksUID  uint16
	reservedBlocksGID  uint16
	firstNonReserved   uint32
	inodeSize          uint16
	blockGroupNumber   uint16
	featureCompat      uint32
	featureIncompat    uint32
	featureROCompat    uint32
	volumeUUID         uuid.UUID
	volumeName         string
	// raw holds the 1024-byte on-disk region as read, so serialization
	// preserves fields this driver does not model
	raw []byte
}

func (sb *superblock) equal(a *superblock) bool {
	if (sb == nil && a != nil) || (a == nil && sb != nil) {
		return false
	}
	if sb == nil && a == nil {
		return true
	}
	return string(sb.toBytes()) == string(a.toBytes())
}

// superblockFromBytes create a superblock struct from bytes
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) < superblockSize {
		return nil, fmt.Errorf("%w: only %d bytes, must be %d", ErrInvalidSuperblock, len(b), superblockSize)
	}
	d := newDecoder(b)
	sb := superblock{}
	sb.inodeCount = d.uint32()
	sb.blockCount = d.uint32()
	sb.reservedBlocks = d.uint32()
	sb.freeBlocks = d.uint32()
	sb.freeInodes = d.uint32()
	sb.firstDataBlock = d.uint32()
	sb.logBlockSize = d.uint32()
	sb.logFragmentSize = d.int32()
	sb.blocksPerGroup = d.uint32()
	sb.fragmentsPerGroup = d.uint32()
	sb.inodesPerGroup = d.uint32()
	sb.mountTime = time.Unix(int64(d.uint32()), 0).UTC()
	sb.writeTime = time.Unix(int64(d.uint32()), 0).UTC()
	sb.mountCount = d.uint16()
	sb.mountsToFsck = d.uint16()
	magic := d.uint16()
	sb.state = filesystemState(d.uint16())
	sb.errorBehaviour = errorBehaviour(d.uint16())
	sb.minorRevision = d.uint16()
	sb.lastCheck = time.Unix(int64(d.uint32()), 0).UTC()
	sb.checkInterval = d.uint32()
	sb.creatorOS = d.uint32()
	sb.revisionLevel = d.uint32()
	sb.reservedBlocksUID = d.uint16()
	sb.reservedBlocksGID = d.uint16()
	sb.firstNonReserved = d.uint32()
	sb.inodeSize = d.uint16()
	sb.blockGroupNumber = d.uint16()
	sb.featureCompat = d.uint32()
	sb.featureIncompat = d.uint32()
	sb.featureROCompat = d.uint32()
	copy(sb.volumeUUID[:], d.bytes(16))
	sb.volumeName = strings.TrimRight(string(d.bytes(16)), "\x00")
	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSuperblock, d.err)
	}

	if magic != superblockSignature {
		return nil, fmt.Errorf("%w: magic %#04x, expected %#04x", ErrInvalidSuperblock, magic, superblockSignature)
	}
	if sb.blocksPerGroup == 0 || sb.inodesPerGroup == 0 {
		return nil, fmt.Errorf("%w: zero blocks or inodes per group", ErrInvalidSuperblock)
	}
	if sb.logBlockSize > 6 {
		return nil, fmt.Errorf("%w: block size log %d out of range", ErrInvalidSuperblock, sb.logBlockSize)
	}

	sb.raw = make([]byte, superblockSize)
	copy(sb.raw, b[:superblockSize])

	return &sb, nil
}

// toBytes returns the superblock ready to be written to disk. Fields this
// driver does not model are carried over byte-identical from the read.
func (sb *superblock) toBytes() []byte {
	e := newEncoder(superblockSize)
	if sb.raw != nil {
		copy(e.b, sb.raw)
	}
	e.putUint32(sb.inodeCount)
	e.putUint32(sb.blockCount)
	e.putUint32(sb.reservedBlocks)
	e.putUint32(sb.freeBlocks)
	e.putUint32(sb.freeInodes)
	e.putUint32(sb.firstDataBlock)
	e.putUint32(sb.logBlockSize)
	e.putInt32(sb.logFragmentSize)
	e.putUint32(sb.blocksPerGroup)
	e.putUint32(sb.fragmentsPerGroup)
	e.putUint32(sb.inodesPerGroup)
	e.putUint32(uint32(sb.mountTime.Unix()))
	e.putUint32(uint32(sb.writeTime.Unix()))
	e.putUint16(sb.mountCount)
	e.putUint16(sb.mountsToFsck)
	e.putUint16(superblockSignature)
	e.putUint16(uint16(sb.state))
	e.putUint16(uint16(sb.errorBehaviour))
	e.putUint16(sb.minorRevision)
	e.putUint32(uint32(sb.lastCheck.Unix()))
	e.putUint32(sb.checkInterval)
	e.putUint32(sb.creatorOS)
	e.putUint32(sb.revisionLevel)
	e.putUint16(sb.reservedBlocksUID)
	e.putUint16(sb.reservedBlocksGID)
	e.putUint32(sb.firstNonReserved)
	e.putUint16(sb.inodeSize)
	e.putUint16(sb.blockGroupNumber)
	e.putUint32(sb.featureCompat)
	e.putUint32(sb.featureIncompat)
	e.putUint32(sb.featureROCompat)
	e.putBytes(sb.volumeUUID[:])
	name := make([]byte, 16)
	copy(name, sb.volumeName)
	e.putBytes(name)
	return e.bytes()
}

// blockSize the size of a filesystem block in bytes
func (sb *superblock) blockSize() uint32 {
	return uint32(1024) << sb.logBlockSize
}

// fragmentSize the size of a fragment in bytes. The log is signed: a negative
// value shifts right.
func (sb *superblock) fragmentSize() uint32 {
	if sb.logFragmentSize >= 0 {
		return uint32(1024) << uint32(sb.logFragmentSize)
	}
	return uint32(1024) >> uint32(-sb.logFragmentSize)
}

// blockGroupCount how many block groups the image holds
func (sb *superblock) blockGroupCount() uint32 {
	return (sb.blockCount + sb.blocksPerGroup - 1) / sb.blocksPerGroup
}

// inodeSlotSize the stride of one inode record in the inode table
func (sb *superblock) inodeSlotSize() uint32 {
	if sb.revisionLevel >= revisionDynamic && sb.inodeSize >= 128 {
		return uint32(sb.inodeSize)
	}
	return uint32(defaultInodeSize)
}

// backupGroups which block groups carry a backup superblock. Empty for
// revision 0 images, which keep a copy in every group and are out of scope
// for rewriting.
func (sb *superblock) backupGroups() []uint32 {
	if sb.revisionLevel < revisionDynamic {
		return nil
	}
	count := sb.blockGroupCount()
	var groups []uint32
	for _, g := range backupSuperblockGroups {
		if g < count {
			groups = append(groups, g)
		}
	}
	return groups
}
