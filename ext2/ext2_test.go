package ext2

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-test/deep"
)

func TestReadFilesystem(t *testing.T) {
	fs, _ := testFilesystem(t)
	info := fs.Info()
	if info.BlockSize != testBlockSize {
		t.Errorf("BlockSize = %d, want %d", info.BlockSize, testBlockSize)
	}
	if info.InodeCount == 0 {
		t.Error("InodeCount = 0")
	}
	if info.BlockGroups != 1 {
		t.Errorf("BlockGroups = %d, want 1", info.BlockGroups)
	}
	if info.FreeBlocks != testFreeBlocks || info.FreeInodes != testFreeInodes {
		t.Errorf("free counters = %d/%d, want %d/%d", info.FreeBlocks, info.FreeInodes, testFreeBlocks, testFreeInodes)
	}
	if fs.Label() != "go-ext2-test" {
		t.Errorf("Label() = %q", fs.Label())
	}
	// revision 1 carries the journal placeholder
	if fs.journal == nil {
		t.Error("journal placeholder missing on a revision 1 image")
	}
	checkCounters(t, fs)
}

func TestReadFilesystemBadMagic(t *testing.T) {
	img := testImageBytes()
	img[1024+0x38] = 0
	_, err := Read(testBackend(img), int64(len(img)), 0)
	if !errors.Is(err, ErrInvalidSuperblock) {
		t.Errorf("mount with bad magic returned %v, want ErrInvalidSuperblock", err)
	}
}

func TestFindByPathRoot(t *testing.T) {
	fs, _ := testFilesystem(t)
	for _, p := range []string{"", "/"} {
		number, err := fs.FindByPath(p)
		if err != nil {
			t.Fatalf("FindByPath(%q): %v", p, err)
		}
		if number != rootInode {
			t.Errorf("FindByPath(%q) = %d, want %d", p, number, rootInode)
		}
	}
}

func TestFindByPathMissing(t *testing.T) {
	fs, _ := testFilesystem(t)
	_, err := fs.FindByPath("/no/such/file")
	if !errors.Is(err, ErrInvalidFile) {
		t.Errorf("FindByPath on missing component returned %v, want ErrInvalidFile", err)
	}
}

func TestReadRootDirectory(t *testing.T) {
	fs, _ := testFilesystem(t)
	dir, err := fs.ReadDirectory(rootInode)
	if err != nil {
		t.Fatalf("ReadDirectory(%d): %v", rootInode, err)
	}
	entries := dir.Entries()
	if len(entries) < 2 {
		t.Fatalf("root has %d entries, want at least 2", len(entries))
	}
	if entries[0].Name != "." || entries[0].Inode != rootInode {
		t.Errorf("first entry = %+v, want . -> %d", entries[0], rootInode)
	}
	if entries[1].Name != ".." || entries[1].Inode != rootInode {
		t.Errorf("second entry = %+v, want .. -> %d", entries[1], rootInode)
	}
}

func TestReadDirectoryOnFile(t *testing.T) {
	fs, _ := testFilesystem(t)
	if err := fs.WriteFile("/", "f", []byte("x")); err != nil {
		t.Fatalf("WriteFile(): %v", err)
	}
	number, err := fs.FindByPath("/f")
	if err != nil {
		t.Fatalf("FindByPath(/f): %v", err)
	}
	if _, err := fs.ReadDirectory(number); !errors.Is(err, ErrInvalidDirectory) {
		t.Errorf("ReadDirectory on a file returned %v, want ErrInvalidDirectory", err)
	}
	if _, err := fs.OpenFile(rootInode); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("OpenFile on a directory returned %v, want ErrInvalidFile", err)
	}
}

func TestStatInvalidInode(t *testing.T) {
	fs, _ := testFilesystem(t)
	if _, err := fs.Stat(0); !errors.Is(err, ErrInvalidInode) {
		t.Errorf("Stat(0) returned %v, want ErrInvalidInode", err)
	}
	if _, err := fs.Stat(testInodeCount + 1); !errors.Is(err, ErrInvalidInode) {
		t.Errorf("Stat(%d) returned %v, want ErrInvalidInode", testInodeCount+1, err)
	}
}

func TestWriteFileAndReadBack(t *testing.T) {
	fs, _ := testFilesystem(t)
	content := []byte("Hello\n")
	if err := fs.WriteFile("/", "hello.txt", content); err != nil {
		t.Fatalf("WriteFile(): %v", err)
	}

	number, err := fs.FindByPath("/hello.txt")
	if err != nil {
		t.Fatalf("FindByPath(/hello.txt): %v", err)
	}
	buf := make([]byte, len(content))
	n, err := fs.ReadFile(number, buf, 0)
	if err != nil {
		t.Fatalf("ReadFile(): %v", err)
	}
	if n != len(content) || !bytes.Equal(buf, content) {
		t.Errorf("ReadFile() = %d bytes %q, want %q", n, buf[:n], content)
	}

	fi, err := fs.Stat(number)
	if err != nil {
		t.Fatalf("Stat(%d): %v", number, err)
	}
	if !fi.Mode.IsRegular() || fi.Size != uint64(len(content)) || fi.Links != 1 {
		t.Errorf("Stat() = %+v", fi)
	}

	if fs.superblock.freeInodes != testFreeInodes-1 {
		t.Errorf("freeInodes = %d, want %d", fs.superblock.freeInodes, testFreeInodes-1)
	}
	if fs.superblock.freeBlocks != testFreeBlocks-1 {
		t.Errorf("freeBlocks = %d, want %d", fs.superblock.freeBlocks, testFreeBlocks-1)
	}
	checkCounters(t, fs)
	checkDirectoryBlocks(t, fs, rootInode)
	checkBlockPointers(t, fs, number)
}

func TestWriteFileOverwrite(t *testing.T) {
	fs, _ := testFilesystem(t)
	if err := fs.WriteFile("/", "f", bytes.Repeat([]byte("a"), 2000)); err != nil {
		t.Fatalf("WriteFile(): %v", err)
	}
	first, err := fs.FindByPath("/f")
	if err != nil {
		t.Fatalf("FindByPath(/f): %v", err)
	}
	counters := fs.superblock.freeBlocks

	// shrink from two blocks to one; the entry and inode are reused
	if err := fs.WriteFile("/", "f", []byte("b")); err != nil {
		t.Fatalf("WriteFile() overwrite: %v", err)
	}
	second, err := fs.FindByPath("/f")
	if err != nil {
		t.Fatalf("FindByPath(/f) after overwrite: %v", err)
	}
	if second != first {
		t.Errorf("overwrite moved the file from inode %d to %d", first, second)
	}
	if got := fs.superblock.freeBlocks; got != counters+1 {
		t.Errorf("freeBlocks = %d after shrink, want %d", got, counters+1)
	}
	buf := make([]byte, 1)
	if _, err := fs.ReadFile(second, buf, 0); err != nil {
		t.Fatalf("ReadFile(): %v", err)
	}
	if buf[0] != 'b' {
		t.Errorf("content = %q, want b", buf)
	}
	checkCounters(t, fs)
}

func TestWriteFileDirectBlockLimit(t *testing.T) {
	fs, _ := testFilesystem(t)
	// exactly twelve blocks fits
	if err := fs.WriteFile("/", "big", make([]byte, 12*testBlockSize)); err != nil {
		t.Fatalf("WriteFile() of 12 blocks: %v", err)
	}
	// one byte more needs a thirteenth block
	err := fs.WriteFile("/", "toobig", make([]byte, 12*testBlockSize+1))
	if !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("WriteFile() of 13 blocks returned %v, want ErrInvalidOperation", err)
	}
	checkCounters(t, fs)
}

func TestWriteFileOverDirectory(t *testing.T) {
	fs, _ := testFilesystem(t)
	if err := fs.Mkdir("/", "d"); err != nil {
		t.Fatalf("Mkdir(): %v", err)
	}
	if err := fs.WriteFile("/", "d", []byte("x")); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("WriteFile over a directory returned %v, want ErrInvalidFile", err)
	}
}

func TestWriteFilePersistence(t *testing.T) {
	fs, img := testFilesystem(t)
	content := []byte("persistent data\n")
	if err := fs.WriteFile("/", "keep.txt", content); err != nil {
		t.Fatalf("WriteFile(): %v", err)
	}
	if err := fs.Sync(); err != nil {
		t.Fatalf("Sync(): %v", err)
	}

	// reopen the image: the file must still be there, byte for byte
	fs2, err := Read(testBackend(img), int64(len(img)), 0)
	if err != nil {
		t.Fatalf("remount: %v", err)
	}
	number, err := fs2.FindByPath("/keep.txt")
	if err != nil {
		t.Fatalf("FindByPath after remount: %v", err)
	}
	buf := make([]byte, len(content))
	if _, err := fs2.ReadFile(number, buf, 0); err != nil {
		t.Fatalf("ReadFile after remount: %v", err)
	}
	if !bytes.Equal(buf, content) {
		t.Errorf("content after remount = %q, want %q", buf, content)
	}
	if fs2.superblock.freeInodes != testFreeInodes-1 {
		t.Errorf("persisted freeInodes = %d, want %d", fs2.superblock.freeInodes, testFreeInodes-1)
	}
	checkCounters(t, fs2)
}

func TestRemoveFile(t *testing.T) {
	fs, _ := testFilesystem(t)
	if err := fs.WriteFile("/", "f", []byte("data")); err != nil {
		t.Fatalf("WriteFile(): %v", err)
	}
	if err := fs.RemoveFile("/f"); err != nil {
		t.Fatalf("RemoveFile(): %v", err)
	}
	if _, err := fs.FindByPath("/f"); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("FindByPath after remove returned %v, want ErrInvalidFile", err)
	}
	if fs.superblock.freeInodes != testFreeInodes || fs.superblock.freeBlocks != testFreeBlocks {
		t.Errorf("counters = %d/%d after remove, want %d/%d",
			fs.superblock.freeBlocks, fs.superblock.freeInodes, testFreeBlocks, testFreeInodes)
	}
	checkCounters(t, fs)
	checkDirectoryBlocks(t, fs, rootInode)
}

func TestRemoveFileOnDirectory(t *testing.T) {
	fs, _ := testFilesystem(t)
	if err := fs.Mkdir("/", "d"); err != nil {
		t.Fatalf("Mkdir(): %v", err)
	}
	if err := fs.RemoveFile("/d"); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("RemoveFile on a directory returned %v, want ErrInvalidFile", err)
	}
}

func TestMkdirRemoveDirectory(t *testing.T) {
	fs, _ := testFilesystem(t)
	rootBefore, err := fs.readInode(rootInode)
	if err != nil {
		t.Fatalf("readInode(root): %v", err)
	}

	if err := fs.Mkdir("/", "d"); err != nil {
		t.Fatalf("Mkdir(): %v", err)
	}
	number, err := fs.FindByPath("/d")
	if err != nil {
		t.Fatalf("FindByPath(/d): %v", err)
	}
	in, err := fs.readInode(number)
	if err != nil {
		t.Fatalf("readInode(%d): %v", number, err)
	}
	if !in.isDirectory() || in.linksCount != 2 || in.size != testBlockSize {
		t.Errorf("new directory inode = %+v", in)
	}

	// first two entries are "." to itself and ".." to the parent
	dir, err := fs.ReadDirectory(number)
	if err != nil {
		t.Fatalf("ReadDirectory(%d): %v", number, err)
	}
	entries := dir.Entries()
	expected := []DirectoryEntry{
		{Inode: number, FileType: dirFileTypeDirectory, Name: "."},
		{Inode: rootInode, FileType: dirFileTypeDirectory, Name: ".."},
	}
	if diff := deep.Equal(expected, entries); diff != nil {
		t.Errorf("new directory entries: %v", diff)
	}

	rootAfter, err := fs.readInode(rootInode)
	if err != nil {
		t.Fatalf("readInode(root): %v", err)
	}
	if rootAfter.linksCount != rootBefore.linksCount+1 {
		t.Errorf("root links = %d, want %d", rootAfter.linksCount, rootBefore.linksCount+1)
	}
	if fs.groupDescriptors.descriptors[0].usedDirectories != 2 {
		t.Errorf("usedDirectories = %d, want 2", fs.groupDescriptors.descriptors[0].usedDirectories)
	}
	checkCounters(t, fs)
	checkDirectoryBlocks(t, fs, rootInode)
	checkDirectoryBlocks(t, fs, number)

	if err := fs.RemoveDirectory("/d", false); err != nil {
		t.Fatalf("RemoveDirectory(): %v", err)
	}
	if _, err := fs.FindByPath("/d"); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("FindByPath after rmdir returned %v, want ErrInvalidFile", err)
	}
	rootFinal, err := fs.readInode(rootInode)
	if err != nil {
		t.Fatalf("readInode(root): %v", err)
	}
	if rootFinal.linksCount != rootBefore.linksCount {
		t.Errorf("root links = %d after rmdir, want %d", rootFinal.linksCount, rootBefore.linksCount)
	}
	if fs.superblock.freeInodes != testFreeInodes || fs.superblock.freeBlocks != testFreeBlocks {
		t.Errorf("counters = %d/%d after rmdir, want %d/%d",
			fs.superblock.freeBlocks, fs.superblock.freeInodes, testFreeBlocks, testFreeInodes)
	}
	if fs.groupDescriptors.descriptors[0].usedDirectories != 1 {
		t.Errorf("usedDirectories = %d after rmdir, want 1", fs.groupDescriptors.descriptors[0].usedDirectories)
	}
	checkCounters(t, fs)
}

func TestRemoveDirectoryForce(t *testing.T) {
	fs, _ := testFilesystem(t)
	if err := fs.Mkdir("/", "d"); err != nil {
		t.Fatalf("Mkdir(): %v", err)
	}
	if err := fs.WriteFile("/d", "x", []byte("x")); err != nil {
		t.Fatalf("WriteFile(/d/x): %v", err)
	}

	// not empty: refused without force
	if err := fs.RemoveDirectory("/d", false); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("RemoveDirectory without force returned %v, want ErrInvalidOperation", err)
	}
	if err := fs.RemoveDirectory("/d", true); err != nil {
		t.Fatalf("RemoveDirectory with force: %v", err)
	}
	if _, err := fs.FindByPath("/d"); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("FindByPath after forced rmdir returned %v, want ErrInvalidFile", err)
	}
	// the child's inode and blocks came back too
	if fs.superblock.freeInodes != testFreeInodes || fs.superblock.freeBlocks != testFreeBlocks {
		t.Errorf("counters = %d/%d after forced rmdir, want %d/%d",
			fs.superblock.freeBlocks, fs.superblock.freeInodes, testFreeBlocks, testFreeInodes)
	}
	checkCounters(t, fs)
}

func TestRemoveRootDirectory(t *testing.T) {
	fs, _ := testFilesystem(t)
	if err := fs.RemoveDirectory("/", true); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("RemoveDirectory(/) returned %v, want ErrInvalidOperation", err)
	}
}

func TestNestedPaths(t *testing.T) {
	fs, _ := testFilesystem(t)
	if err := fs.Mkdir("/", "a"); err != nil {
		t.Fatalf("Mkdir(/a): %v", err)
	}
	if err := fs.Mkdir("/a", "b"); err != nil {
		t.Fatalf("Mkdir(/a/b): %v", err)
	}
	if err := fs.WriteFile("/a/b", "deep.txt", []byte("deep")); err != nil {
		t.Fatalf("WriteFile(/a/b/deep.txt): %v", err)
	}
	number, err := fs.FindByPath("/a/b/deep.txt")
	if err != nil {
		t.Fatalf("FindByPath(/a/b/deep.txt): %v", err)
	}
	buf := make([]byte, 4)
	if _, err := fs.ReadFile(number, buf, 0); err != nil {
		t.Fatalf("ReadFile(): %v", err)
	}
	if string(buf) != "deep" {
		t.Errorf("content = %q, want deep", buf)
	}
	checkCounters(t, fs)
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		p      string
		parent string
		name   string
	}{
		{"/f", "/", "f"},
		{"/a/b", "/a", "b"},
		{"/a/b/c", "/a/b", "c"},
		{"f", "/", "f"},
		{"/a/b/", "/a", "b"},
	}
	for _, tt := range tests {
		parent, name := splitPath(tt.p)
		if parent != tt.parent || name != tt.name {
			t.Errorf("splitPath(%q) = (%q, %q), want (%q, %q)", tt.p, parent, name, tt.parent, tt.name)
		}
	}
}
