package ext2

import (
	"encoding/binary"
	"testing"

	"github.com/diskfs/go-ext2/testhelper"
)

// The test image is the classic small geometry: 1 MiB, 1 KiB blocks, one
// block group, 8 inodes. Layout:
//
//	block 0    boot area
//	block 1    superblock
//	block 2    group descriptor table
//	block 3    block bitmap
//	block 4    inode bitmap
//	block 5-6  inode table (8 inodes of 256 bytes)
//	block 7    root directory data
const (
	testImageSize      = 1 << 20
	testBlockSize      = 1024
	testBlockCount     = 1024
	testInodeCount     = 8
	testBlocksPerGroup = 1024
	testInodesPerGroup = 8
	testFreeBlocks     = 1016
	testFreeInodes     = 6
	testEpoch          = uint32(1700000000)
	testRootBlock      = 7
)

var testUUID = [16]byte{
	0x1d, 0xc7, 0x9c, 0x0e, 0x1f, 0xa6, 0x43, 0x99,
	0xae, 0x02, 0x9a, 0x07, 0x7c, 0x61, 0x40, 0x22,
}

func put16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:off+2], v)
}

func put32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// testSuperblockBytes the raw primary superblock of the test image
func testSuperblockBytes() []byte {
	sb := make([]byte, superblockSize)
	put32(sb, 0x00, testInodeCount)
	put32(sb, 0x04, testBlockCount)
	put32(sb, 0x08, 0) // reserved blocks
	put32(sb, 0x0c, testFreeBlocks)
	put32(sb, 0x10, testFreeInodes)
	put32(sb, 0x14, 1) // first data block
	put32(sb, 0x18, 0) // log block size -> 1024
	put32(sb, 0x1c, 0) // log fragment size
	put32(sb, 0x20, testBlocksPerGroup)
	put32(sb, 0x24, testBlocksPerGroup) // fragments per group
	put32(sb, 0x28, testInodesPerGroup)
	put32(sb, 0x2c, testEpoch) // mount time
	put32(sb, 0x30, testEpoch) // write time
	put16(sb, 0x34, 1)         // mount count
	put16(sb, 0x36, 0xffff)    // mounts before fsck
	put16(sb, 0x38, 0xef53)    // magic
	put16(sb, 0x3a, 1)         // state: cleanly unmounted
	put16(sb, 0x3c, 1)         // errors: continue
	put32(sb, 0x40, testEpoch) // last check
	put32(sb, 0x4c, 1)         // revision
	put32(sb, 0x54, 11)        // first non-reserved inode
	put16(sb, 0x58, 256)       // inode size
	put32(sb, 0x60, 0x2)       // incompat: filetype
	copy(sb[0x68:0x78], testUUID[:])
	copy(sb[0x78:0x88], "go-ext2-test")
	return sb
}

// testImageBytes builds the whole seeded image
func testImageBytes() []byte {
	img := make([]byte, testImageSize)
	copy(img[superblockOffset:], testSuperblockBytes())

	// group descriptor table, one group
	gd := img[2*testBlockSize:]
	put32(gd, 0, 3)  // block bitmap
	put32(gd, 4, 4)  // inode bitmap
	put32(gd, 8, 5)  // inode table
	put16(gd, 12, testFreeBlocks)
	put16(gd, 14, testFreeInodes)
	put16(gd, 16, 1) // used directories: root

	// block bitmap: blocks 1-7 in use (bits 0-6), plus the final bit, which
	// covers a block past the end of the image
	bbm := img[3*testBlockSize : 4*testBlockSize]
	bbm[0] = 0x7f
	bbm[127] = 0x80

	// inode bitmap: inodes 1 (bad blocks) and 2 (root) in use; everything
	// past the 8 valid bits is padded with ones
	ibm := img[4*testBlockSize : 5*testBlockSize]
	ibm[0] = 0x03
	for i := 1; i < testBlockSize; i++ {
		ibm[i] = 0xff
	}

	// root inode, slot 2 of the table
	ri := img[5*testBlockSize+256:]
	put16(ri, 0x00, 0x41ed) // directory, 0755
	put32(ri, 0x04, testBlockSize)
	put32(ri, 0x08, testEpoch)
	put32(ri, 0x0c, testEpoch)
	put32(ri, 0x10, testEpoch)
	put16(ri, 0x1a, 2) // links: "." and ".."
	put32(ri, 0x1c, testBlockSize/512)
	put32(ri, 0x28, testRootBlock) // block[0]

	// root directory data: "." and ".."
	d := img[testRootBlock*testBlockSize:]
	put32(d, 0, 2)
	put16(d, 4, 12)
	d[6] = 1
	d[7] = 2
	d[8] = '.'
	put32(d, 12, 2)
	put16(d, 16, testBlockSize-12)
	d[18] = 2
	d[19] = 2
	d[20] = '.'
	d[21] = '.'

	return img
}

// testBackend a backend.Storage over an in-memory image
func testBackend(img []byte) *testhelper.FileImpl {
	return &testhelper.FileImpl{
		Reader: func(b []byte, offset int64) (int, error) {
			return copy(b, img[offset:]), nil
		},
		Writer: func(b []byte, offset int64) (int, error) {
			return copy(img[offset:], b), nil
		},
	}
}

// testFilesystem mounts a fresh copy of the seeded image
func testFilesystem(t *testing.T) (*FileSystem, []byte) {
	t.Helper()
	img := testImageBytes()
	fs, err := Read(testBackend(img), int64(len(img)), 0)
	if err != nil {
		t.Fatalf("failed to mount test image: %v", err)
	}
	return fs, img
}

// checkCounters verifies the bitmap/counter invariants: for every group the
// popcount of clear bits over the valid range equals the descriptor's free
// count, and the per-group counts sum to the superblock's.
func checkCounters(t *testing.T, fs *FileSystem) {
	t.Helper()
	var sumBlocks, sumInodes uint32
	for g := range fs.groupDescriptors.descriptors {
		gd := &fs.groupDescriptors.descriptors[g]
		bbm, err := fs.readBitmap(gd.blockBitmapLocation)
		if err != nil {
			t.Fatalf("group %d block bitmap: %v", g, err)
		}
		if free := bbm.CountFree(int(fs.superblock.blocksPerGroup)); free != int(gd.freeBlocks) {
			t.Errorf("group %d: block bitmap has %d free, descriptor says %d", g, free, gd.freeBlocks)
		}
		ibm, err := fs.readBitmap(gd.inodeBitmapLocation)
		if err != nil {
			t.Fatalf("group %d inode bitmap: %v", g, err)
		}
		if free := ibm.CountFree(int(fs.superblock.inodesPerGroup)); free != int(gd.freeInodes) {
			t.Errorf("group %d: inode bitmap has %d free, descriptor says %d", g, free, gd.freeInodes)
		}
		sumBlocks += uint32(gd.freeBlocks)
		sumInodes += uint32(gd.freeInodes)
	}
	if sumBlocks != fs.superblock.freeBlocks {
		t.Errorf("group free blocks sum %d != superblock %d", sumBlocks, fs.superblock.freeBlocks)
	}
	if sumInodes != fs.superblock.freeInodes {
		t.Errorf("group free inodes sum %d != superblock %d", sumInodes, fs.superblock.freeInodes)
	}
}

// checkBlockPointers verifies that every non-zero direct pointer of the inode
// references a block whose bitmap bit is set
func checkBlockPointers(t *testing.T, fs *FileSystem, number uint32) {
	t.Helper()
	in, err := fs.readInode(number)
	if err != nil {
		t.Fatalf("read inode %d: %v", number, err)
	}
	for i := 0; i < directBlockPointers; i++ {
		if in.block[i] == 0 {
			continue
		}
		group, index, err := fs.groupIndex(allocBlock, in.block[i])
		if err != nil {
			t.Fatalf("block %d: %v", in.block[i], err)
		}
		bm, err := fs.readBitmap(fs.groupDescriptors.descriptors[group].blockBitmapLocation)
		if err != nil {
			t.Fatalf("group %d block bitmap: %v", group, err)
		}
		set, err := bm.IsSet(int(index))
		if err != nil {
			t.Fatalf("bitmap bit %d: %v", index, err)
		}
		if !set {
			t.Errorf("inode %d block[%d] = %d, but its bitmap bit is clear", number, i, in.block[i])
		}
	}
}

// checkDirectoryBlocks verifies that the rec_len values in every data block
// of the directory sum exactly to the block size
func checkDirectoryBlocks(t *testing.T, fs *FileSystem, number uint32) {
	t.Helper()
	in, err := fs.readInode(number)
	if err != nil {
		t.Fatalf("read inode %d: %v", number, err)
	}
	for i := 0; i < directBlockPointers; i++ {
		if in.block[i] == 0 {
			continue
		}
		b, err := fs.readBlock(in.block[i])
		if err != nil {
			t.Fatalf("read block %d: %v", in.block[i], err)
		}
		var sum int
		for offset := 0; offset+directoryEntryHeaderSize <= len(b); {
			recLen := int(binary.LittleEndian.Uint16(b[offset+4 : offset+6]))
			if recLen == 0 {
				break
			}
			sum += recLen
			offset += recLen
		}
		if sum != len(b) {
			t.Errorf("directory %d block %d: rec_len sum %d != block size %d", number, in.block[i], sum, len(b))
		}
	}
}
