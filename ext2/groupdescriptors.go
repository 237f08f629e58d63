package ext2

import "fmt"

// groupDescriptorSize each descriptor is 32 bytes on disk
const groupDescriptorSize int = 32

// groupDescriptors is a structure holding all of the group descriptors for
// all of the block groups
type groupDescriptors struct {
	descriptors []groupDescriptor
}

// groupDescriptor is a structure holding the data about a single block group
type groupDescriptor struct {
	blockBitmapLocation uint32
	inodeBitmapLocation uint32
	inodeTableLocation  uint32
	freeBlocks          uint16
	freeInodes          uint16
	usedDirectories     uint16
	padding             uint16
	reserved            [12]byte
	number              uint16
}

func (gds *groupDescriptors) equal(a *groupDescriptors) bool {
	if (gds == nil && a != nil) || (a == nil && gds != nil) {
		return false
	}
	if gds == nil && a == nil {
		return true
	}
	if len(gds.descriptors) != len(a.descriptors) {
		return false
	}
	for i := range gds.descriptors {
		if gds.descriptors[i] != a.descriptors[i] {
			return false
		}
	}
	return true
}

// groupDescriptorsFromBytes create a groupDescriptors struct from bytes,
// iterating the known group count
func groupDescriptorsFromBytes(b []byte, count uint32) (*groupDescriptors, error) {
	if len(b) < int(count)*groupDescriptorSize {
		return nil, fmt.Errorf("%w: %d bytes for %d descriptors", ErrInvalidBlockGroup, len(b), count)
	}
	gds := groupDescriptors{
		descriptors: make([]groupDescriptor, 0, count),
	}
	for i := uint32(0); i < count; i++ {
		start := int(i) * groupDescriptorSize
		gd := groupDescriptorFromBytes(b[start:start+groupDescriptorSize], uint16(i))
		gds.descriptors = append(gds.descriptors, gd)
	}

	return &gds, nil
}

// toBytes returns the whole table as one contiguous buffer, 32 bytes per
// descriptor. Persistence is a single positioned write of this buffer, never
// per-descriptor seeks, so a flush cannot leave the table half updated.
func (gds *groupDescriptors) toBytes() []byte {
	b := make([]byte, 0, len(gds.descriptors)*groupDescriptorSize)
	for i := range gds.descriptors {
		b = append(b, gds.descriptors[i].toBytes()...)
	}

	return b
}

// groupDescriptorFromBytes create a groupDescriptor struct from bytes
func groupDescriptorFromBytes(b []byte, number uint16) groupDescriptor {
	d := newDecoder(b)
	gd := groupDescriptor{number: number}
	gd.blockBitmapLocation = d.uint32()
	gd.inodeBitmapLocation = d.uint32()
	gd.inodeTableLocation = d.uint32()
	gd.freeBlocks = d.uint16()
	gd.freeInodes = d.uint16()
	gd.usedDirectories = d.uint16()
	gd.padding = d.uint16()
	copy(gd.reserved[:], d.bytes(12))

	return gd
}

// toBytes returns a descriptor ready to be written to disk
func (gd *groupDescriptor) toBytes() []byte {
	e := newEncoder(groupDescriptorSize)
	e.putUint32(gd.blockBitmapLocation)
	e.putUint32(gd.inodeBitmapLocation)
	e.putUint32(gd.inodeTableLocation)
	e.putUint16(gd.freeBlocks)
	e.putUint16(gd.freeInodes)
	e.putUint16(gd.usedDirectories)
	e.putUint16(gd.padding)
	e.putBytes(gd.reserved[:])

	return e.bytes()
}
