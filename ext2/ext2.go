// Package ext2 implements a user-space driver for classic extent-less
// ext2 filesystem images: the superblock, the block group descriptor table,
// the inode table, the block and inode allocation bitmaps, and the
// linked-list directory entry format, together with the consistency rules
// tying them together when the image is mutated.
//
// A FileSystem is mounted over a backend.Storage with Read, mutated through
// its file and directory operations, and persisted with Sync. Operations are
// not safe for concurrent use: each instance exclusively owns its image
// handle.
package ext2

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/diskfs/go-ext2/backend"
)

// FileSystem implements access to an ext2 image. The in-memory superblock
// and group descriptors are authoritative while mounted; bitmap changes go
// to the image immediately, superblock changes are batched until a
// superblock write or Sync, and descriptor changes until Sync.
type FileSystem struct {
	superblock       *superblock
	groupDescriptors *groupDescriptors
	journal          *journal
	size             int64
	start            int64
	backend          backend.Storage
}

// Equal compare if two filesystems are equal
func (fs *FileSystem) Equal(a *FileSystem) bool {
	localMatch := fs.backend == a.backend
	sbMatch := fs.superblock.equal(a.superblock)
	gdMatch := fs.groupDescriptors.equal(a.groupDescriptors)
	return localMatch && sbMatch && gdMatch
}

// Read mounts the filesystem found on the backend storage.
//
// size is the size of the filesystem area in bytes; start is how far in
// bytes from the beginning of the storage it begins. For a whole-disk image
// start is 0 and size is the image size; for a partition they describe the
// partition boundaries.
func Read(b backend.Storage, size, start int64) (*FileSystem, error) {
	if size > 0 && size < superblockOffset+int64(superblockSize) {
		return nil, fmt.Errorf("%w: %d bytes is too small to hold a superblock", ErrInvalidFilesystem, size)
	}

	fs := &FileSystem{
		size:    size,
		start:   start,
		backend: b,
	}

	sbBytes := make([]byte, superblockSize)
	if err := fs.readAt(sbBytes, superblockOffset); err != nil {
		return nil, fmt.Errorf("failed to read superblock: %w", err)
	}
	sb, err := superblockFromBytes(sbBytes)
	if err != nil {
		return nil, err
	}
	fs.superblock = sb

	groupCount := sb.blockGroupCount()
	gdtBytes := make([]byte, int(groupCount)*groupDescriptorSize)
	if err := fs.readAt(gdtBytes, fs.groupDescriptorTableOffset()); err != nil {
		return nil, fmt.Errorf("failed to read group descriptor table: %w", err)
	}
	gds, err := groupDescriptorsFromBytes(gdtBytes, groupCount)
	if err != nil {
		return nil, err
	}
	fs.groupDescriptors = gds

	// the journal is never replayed; revision >= 1 images just carry a
	// placeholder record
	if sb.revisionLevel >= revisionDynamic {
		fs.journal = placeholderJournal(sb.blockSize())
	}

	log.Debugf("mounted ext2 filesystem: %d blocks of %d bytes in %d groups, %d inodes",
		sb.blockCount, sb.blockSize(), groupCount, sb.inodeCount)

	return fs, nil
}

// Info is a point-in-time snapshot of the filesystem geometry and counters
type Info struct {
	InodeCount     uint32
	BlockCount     uint32
	FreeBlocks     uint32
	FreeInodes     uint32
	BlockSize      uint32
	InodeSize      uint32
	BlocksPerGroup uint32
	InodesPerGroup uint32
	BlockGroups    uint32
	VolumeName     string
	UUID           string
}

// Info returns the current geometry and free counters
func (fs *FileSystem) Info() Info {
	sb := fs.superblock
	return Info{
		InodeCount:     sb.inodeCount,
		BlockCount:     sb.blockCount,
		FreeBlocks:     sb.freeBlocks,
		FreeInodes:     sb.freeInodes,
		BlockSize:      sb.blockSize(),
		InodeSize:      sb.inodeSlotSize(),
		BlocksPerGroup: sb.blocksPerGroup,
		InodesPerGroup: sb.inodesPerGroup,
		BlockGroups:    sb.blockGroupCount(),
		VolumeName:     sb.volumeName,
		UUID:           sb.volumeUUID.String(),
	}
}

// Label the volume name, or "" if none
func (fs *FileSystem) Label() string {
	return fs.superblock.volumeName
}

// FileInfo describes one filesystem object by inode
type FileInfo struct {
	Number uint32
	Mode   os.FileMode
	Size   uint64
	Links  uint16
}

// IsDir reports whether the object is a directory
func (fi FileInfo) IsDir() bool {
	return fi.Mode.IsDir()
}

// Stat returns information about the object at the given inode number
func (fs *FileSystem) Stat(number uint32) (FileInfo, error) {
	in, err := fs.readInode(number)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Number: number,
		Mode:   in.permissionsToMode(),
		Size:   in.effectiveSize(),
		Links:  in.linksCount,
	}, nil
}

// FindByPath resolves an absolute path to an inode number. "/" and the empty
// path are the root directory, inode 2.
func (fs *FileSystem) FindByPath(p string) (uint32, error) {
	if p == "" || p == "/" {
		return rootInode, nil
	}
	current := rootInode
	for _, component := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if component == "" {
			continue
		}
		dir, err := fs.readDirectory(current)
		if err != nil {
			return 0, err
		}
		entry := dir.find(component)
		if entry == nil {
			return 0, fmt.Errorf("%w: path component %q not found", ErrInvalidFile, component)
		}
		current = entry.inode
	}
	return current, nil
}

// ReadDirectory reads the directory at the given inode number
func (fs *FileSystem) ReadDirectory(number uint32) (*Directory, error) {
	return fs.readDirectory(number)
}

// OpenFile opens the regular file at the given inode number for reading
func (fs *FileSystem) OpenFile(number uint32) (*File, error) {
	in, err := fs.readInode(number)
	if err != nil {
		return nil, err
	}
	if !in.isFile() {
		return nil, fmt.Errorf("%w: inode %d is not a regular file", ErrInvalidFile, number)
	}
	return &File{inode: in, filesystem: fs}, nil
}

// ReadFile reads into buf from the regular file at the given inode number,
// starting at position. Returns the number of bytes read.
func (fs *FileSystem) ReadFile(number uint32, buf []byte, position int64) (int, error) {
	fl, err := fs.OpenFile(number)
	if err != nil {
		return 0, err
	}
	if _, err := fl.Seek(position, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := fl.Read(buf)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// WriteFile writes data as the file called name under the directory at
// parentPath. An existing entry with that name must be a regular file; its
// blocks are released and replaced. Data larger than the twelve direct
// blocks is refused.
func (fs *FileSystem) WriteFile(parentPath, name string, data []byte) error {
	blockSize := fs.superblock.blockSize()
	blocksNeeded := (uint32(len(data)) + blockSize - 1) / blockSize
	if blocksNeeded > uint32(directBlockPointers) {
		return fmt.Errorf("%w: direct-block limit exceeded: %d bytes needs %d blocks, max %d", ErrInvalidOperation, len(data), blocksNeeded, directBlockPointers)
	}

	parentNumber, err := fs.FindByPath(parentPath)
	if err != nil {
		return err
	}
	parentDir, err := fs.readDirectory(parentNumber)
	if err != nil {
		return err
	}

	var (
		number uint32
		isNew  bool
	)
	if existing := parentDir.find(name); existing != nil {
		number = existing.inode
		old, err := fs.readInode(number)
		if err != nil {
			return err
		}
		if !old.isFile() {
			return fmt.Errorf("%w: %q exists but is not a regular file", ErrInvalidFile, name)
		}
		for i := directBlockPointers; i < totalBlockPointers; i++ {
			if old.block[i] != 0 {
				return fmt.Errorf("%w: %q uses indirect blocks, which are not supported", ErrInvalidOperation, name)
			}
		}
		for i := 0; i < directBlockPointers; i++ {
			if old.block[i] == 0 {
				continue
			}
			if err := fs.freeBlock(old.block[i]); err != nil {
				return err
			}
		}
	} else {
		isNew = true
		number, err = fs.allocateInode()
		if err != nil {
			return err
		}
	}

	now := uint32(time.Now().Unix())
	in := &inode{
		number:     number,
		mode:       newFileMode,
		linksCount: 1,
		size:       uint32(len(data)),
		accessTime: now,
		changeTime: now,
		modifyTime: now,
	}
	for i := uint32(0); i < blocksNeeded; i++ {
		blockNumber, err := fs.allocateBlock()
		if err != nil {
			return err
		}
		in.block[i] = blockNumber
		chunk := make([]byte, blockSize)
		start := int(i * blockSize)
		end := start + int(blockSize)
		if end > len(data) {
			end = len(data)
		}
		// the last block is zero padded by the fresh buffer
		copy(chunk, data[start:end])
		if err := fs.writeBlock(blockNumber, chunk); err != nil {
			return err
		}
	}
	in.sectors = blocksNeeded * (blockSize / 512)

	if err := fs.writeInode(in); err != nil {
		return err
	}
	if isNew {
		if err := fs.addDirectoryEntry(parentNumber, name, number, dirFileTypeRegular); err != nil {
			return err
		}
	}

	return fs.writeSuperblock()
}

// RemoveFile removes the regular file at the given path, releasing its
// blocks and inode
func (fs *FileSystem) RemoveFile(p string) error {
	number, err := fs.FindByPath(p)
	if err != nil {
		return err
	}
	in, err := fs.readInode(number)
	if err != nil {
		return err
	}
	if !in.isFile() {
		return fmt.Errorf("%w: %q is not a regular file", ErrInvalidFile, p)
	}

	parentPath, name := splitPath(p)
	parentNumber, err := fs.FindByPath(parentPath)
	if err != nil {
		return err
	}
	if err := fs.removeDirectoryEntry(parentNumber, name); err != nil {
		return err
	}
	for i := 0; i < directBlockPointers; i++ {
		if in.block[i] == 0 {
			continue
		}
		if err := fs.freeBlock(in.block[i]); err != nil {
			return err
		}
		in.block[i] = 0
	}
	in.linksCount = 0
	in.deletionTime = uint32(time.Now().Unix())
	if err := fs.writeInode(in); err != nil {
		return err
	}
	if err := fs.freeInode(number); err != nil {
		return err
	}

	return fs.writeSuperblock()
}

// Mkdir creates a directory called name under the directory at parentPath
func (fs *FileSystem) Mkdir(parentPath, name string) error {
	parentNumber, err := fs.FindByPath(parentPath)
	if err != nil {
		return err
	}
	parentDir, err := fs.readDirectory(parentNumber)
	if err != nil {
		return err
	}
	if parentDir.find(name) != nil {
		return fmt.Errorf("%w: %q already exists", ErrInvalidOperation, name)
	}

	number, err := fs.allocateInode()
	if err != nil {
		return err
	}
	blockNumber, err := fs.allocateBlock()
	if err != nil {
		return err
	}
	blockSize := fs.superblock.blockSize()
	if err := fs.writeBlock(blockNumber, newDirectoryBlock(blockSize, number, parentNumber)); err != nil {
		return err
	}

	now := uint32(time.Now().Unix())
	in := &inode{
		number:     number,
		mode:       newDirectoryMode,
		linksCount: 2, // "." plus the parent's entry
		size:       blockSize,
		sectors:    blockSize / 512,
		accessTime: now,
		changeTime: now,
		modifyTime: now,
	}
	in.block[0] = blockNumber
	if err := fs.writeInode(in); err != nil {
		return err
	}

	if err := fs.addDirectoryEntry(parentNumber, name, number, dirFileTypeDirectory); err != nil {
		return err
	}

	// the child's ".." is a new link to the parent. Re-read the parent:
	// inserting the entry may have rewritten its inode.
	parentInode, err := fs.readInode(parentNumber)
	if err != nil {
		return err
	}
	parentInode.linksCount++
	if err := fs.writeInode(parentInode); err != nil {
		return err
	}

	group := (number - 1) / fs.superblock.inodesPerGroup
	fs.groupDescriptors.descriptors[group].usedDirectories++

	return fs.writeSuperblock()
}

// RemoveDirectory removes the directory at the given path. Without force the
// directory must hold nothing but "." and ".."; with force its contents are
// removed first.
func (fs *FileSystem) RemoveDirectory(p string, force bool) error {
	number, err := fs.FindByPath(p)
	if err != nil {
		return err
	}
	if number == rootInode {
		return fmt.Errorf("%w: cannot remove the root directory", ErrInvalidOperation)
	}
	in, err := fs.readInode(number)
	if err != nil {
		return err
	}
	if !in.isDirectory() {
		return fmt.Errorf("%w: %q is not a directory", ErrInvalidDirectory, p)
	}

	dir, err := fs.readDirectory(number)
	if err != nil {
		return err
	}
	var contents []*directoryEntry
	for _, de := range dir.entries {
		if countsAsContent(de.name) {
			contents = append(contents, de)
		}
	}
	if len(contents) > 0 {
		if !force {
			return fmt.Errorf("%w: directory %q is not empty", ErrInvalidOperation, p)
		}
		for _, de := range contents {
			childPath := strings.TrimSuffix(p, "/") + "/" + de.name
			child, err := fs.readInode(de.inode)
			if err != nil {
				return err
			}
			if child.isDirectory() {
				err = fs.RemoveDirectory(childPath, true)
			} else {
				err = fs.RemoveFile(childPath)
			}
			if err != nil {
				return err
			}
		}
	}

	parentPath, name := splitPath(p)
	parentNumber, err := fs.FindByPath(parentPath)
	if err != nil {
		return err
	}
	if err := fs.removeDirectoryEntry(parentNumber, name); err != nil {
		return err
	}
	// the dropped ".." releases one link on the parent
	parentInode, err := fs.readInode(parentNumber)
	if err != nil {
		return err
	}
	parentInode.linksCount--
	if err := fs.writeInode(parentInode); err != nil {
		return err
	}

	in, err = fs.readInode(number)
	if err != nil {
		return err
	}
	for i := 0; i < directBlockPointers; i++ {
		if in.block[i] == 0 {
			continue
		}
		if err := fs.freeBlock(in.block[i]); err != nil {
			return err
		}
		in.block[i] = 0
	}
	in.linksCount = 0
	in.deletionTime = uint32(time.Now().Unix())
	if err := fs.writeInode(in); err != nil {
		return err
	}
	if err := fs.freeInode(number); err != nil {
		return err
	}

	group := (number - 1) / fs.superblock.inodesPerGroup
	fs.groupDescriptors.descriptors[group].usedDirectories--

	return fs.Sync()
}

// Sync writes the primary superblock, its backups, and the group descriptor
// table to the image, then flushes the image to durable storage
func (fs *FileSystem) Sync() error {
	if err := fs.writeSuperblock(); err != nil {
		return err
	}
	if err := fs.writeGroupDescriptors(); err != nil {
		return err
	}
	if osFile, err := fs.backend.Sys(); err == nil {
		if err := osFile.Sync(); err != nil {
			return fmt.Errorf("failed to flush image: %w", err)
		}
	}
	log.Debug("synced superblock, backups and group descriptor table")
	return nil
}

// Close syncs and releases the image handle; the filesystem is unmounted
// afterwards
func (fs *FileSystem) Close() error {
	if err := fs.Sync(); err != nil {
		return err
	}
	return fs.backend.Close()
}

// readInode reads the inode record at the given 1-based number
func (fs *FileSystem) readInode(number uint32) (*inode, error) {
	sb := fs.superblock
	if number == 0 || number > sb.inodeCount {
		return nil, fmt.Errorf("%w: inode number %d out of range", ErrInvalidInode, number)
	}
	group := (number - 1) / sb.inodesPerGroup
	if group >= uint32(len(fs.groupDescriptors.descriptors)) {
		return nil, fmt.Errorf("%w: group index %d out of range", ErrInvalidInode, group)
	}
	index := (number - 1) % sb.inodesPerGroup
	slotSize := sb.inodeSlotSize()
	gd := &fs.groupDescriptors.descriptors[group]
	offset := fs.blockOffset(gd.inodeTableLocation) + int64(index)*int64(slotSize)
	b := make([]byte, slotSize)
	if err := fs.readAt(b, offset); err != nil {
		return nil, fmt.Errorf("failed to read inode %d: %w", number, err)
	}
	return inodeFromBytes(b, number)
}

// writeInode serializes an inode back to its slot in the inode table
func (fs *FileSystem) writeInode(in *inode) error {
	sb := fs.superblock
	if in.number == 0 || in.number > sb.inodeCount {
		return fmt.Errorf("%w: inode number %d out of range", ErrInvalidInode, in.number)
	}
	group := (in.number - 1) / sb.inodesPerGroup
	if group >= uint32(len(fs.groupDescriptors.descriptors)) {
		return fmt.Errorf("%w: group index %d out of range", ErrInvalidInode, group)
	}
	index := (in.number - 1) % sb.inodesPerGroup
	slotSize := sb.inodeSlotSize()
	gd := &fs.groupDescriptors.descriptors[group]
	offset := fs.blockOffset(gd.inodeTableLocation) + int64(index)*int64(slotSize)
	if err := fs.writeAt(in.toBytes(slotSize), offset); err != nil {
		return fmt.Errorf("failed to write inode %d: %w", in.number, err)
	}
	return nil
}

// readDirectory reads the inode and decodes the entries of every non-zero
// direct block
func (fs *FileSystem) readDirectory(number uint32) (*Directory, error) {
	in, err := fs.readInode(number)
	if err != nil {
		return nil, err
	}
	if !in.isDirectory() {
		return nil, fmt.Errorf("%w: inode %d is not a directory", ErrInvalidDirectory, number)
	}
	dir := &Directory{inode: in, number: number}
	for i := 0; i < directBlockPointers; i++ {
		if in.block[i] == 0 {
			continue
		}
		b, err := fs.readBlock(in.block[i])
		if err != nil {
			return nil, err
		}
		entries, err := parseDirectoryEntries(b)
		if err != nil {
			return nil, err
		}
		dir.entries = append(dir.entries, entries...)
	}
	return dir, nil
}

// addDirectoryEntry links (name -> target) into the directory at the given
// inode number, splitting an oversized record in an existing block or
// appending a fresh block when every block is full
func (fs *FileSystem) addDirectoryEntry(dirNumber uint32, name string, target uint32, fileType uint8) error {
	if name == "" || len(name) > 255 {
		return fmt.Errorf("%w: invalid name length %d", ErrInvalidOperation, len(name))
	}
	in, err := fs.readInode(dirNumber)
	if err != nil {
		return err
	}
	if !in.isDirectory() {
		return fmt.Errorf("%w: inode %d is not a directory", ErrInvalidDirectory, dirNumber)
	}
	blockSize := fs.superblock.blockSize()
	for i := 0; i < directBlockPointers; i++ {
		if in.block[i] == 0 {
			blockNumber, err := fs.allocateBlock()
			if err != nil {
				return err
			}
			de := directoryEntry{
				inode:    target,
				recLen:   uint16(blockSize),
				fileType: fileType,
				name:     name,
			}
			e := newEncoder(int(blockSize))
			e.putBytes(de.toBytes())
			if err := fs.writeBlock(blockNumber, e.bytes()); err != nil {
				return err
			}
			in.block[i] = blockNumber
			in.size += blockSize
			in.sectors += blockSize / 512
			return fs.writeInode(in)
		}
		b, err := fs.readBlock(in.block[i])
		if err != nil {
			return err
		}
		if insertEntryIntoBlock(b, target, name, fileType) {
			return fs.writeBlock(in.block[i], b)
		}
	}
	return fmt.Errorf("%w: all %d direct blocks of directory %d are full", ErrNoSpace, directBlockPointers, dirNumber)
}

// removeDirectoryEntry unlinks the named entry from the directory at the
// given inode number
func (fs *FileSystem) removeDirectoryEntry(dirNumber uint32, name string) error {
	in, err := fs.readInode(dirNumber)
	if err != nil {
		return err
	}
	if !in.isDirectory() {
		return fmt.Errorf("%w: inode %d is not a directory", ErrInvalidDirectory, dirNumber)
	}
	for i := 0; i < directBlockPointers; i++ {
		if in.block[i] == 0 {
			continue
		}
		b, err := fs.readBlock(in.block[i])
		if err != nil {
			return err
		}
		if removeEntryFromBlock(b, name) {
			return fs.writeBlock(in.block[i], b)
		}
	}
	return fmt.Errorf("%w: directory entry %q not found", ErrInvalidFile, name)
}

// writeSuperblock writes the primary superblock and, for revision >= 1
// images, identical copies at the classical backup groups
func (fs *FileSystem) writeSuperblock() error {
	sb := fs.superblock
	sb.writeTime = time.Now().UTC()
	b := sb.toBytes()
	if err := fs.writeAt(b, superblockOffset); err != nil {
		return fmt.Errorf("failed to write superblock: %w", err)
	}
	for _, g := range sb.backupGroups() {
		offset := int64(g)*int64(sb.blocksPerGroup)*int64(sb.blockSize()) + superblockOffset
		if err := fs.writeAt(b, offset); err != nil {
			return fmt.Errorf("failed to write backup superblock at group %d: %w", g, err)
		}
	}
	return nil
}

// writeGroupDescriptors persists the descriptor table as one contiguous
// positioned write
func (fs *FileSystem) writeGroupDescriptors() error {
	if err := fs.writeAt(fs.groupDescriptors.toBytes(), fs.groupDescriptorTableOffset()); err != nil {
		return fmt.Errorf("failed to write group descriptor table: %w", err)
	}
	return nil
}

// groupDescriptorTableOffset the table begins in the block immediately
// following the superblock
func (fs *FileSystem) groupDescriptorTableOffset() int64 {
	return int64(fs.superblock.firstDataBlock+1) * int64(fs.superblock.blockSize())
}

// blockOffset the byte offset of a block, relative to the filesystem start
func (fs *FileSystem) blockOffset(block uint32) int64 {
	return int64(block) * int64(fs.superblock.blockSize())
}

// readBlock reads one whole block
func (fs *FileSystem) readBlock(block uint32) ([]byte, error) {
	b := make([]byte, fs.superblock.blockSize())
	if err := fs.readAt(b, fs.blockOffset(block)); err != nil {
		return nil, fmt.Errorf("failed to read block %d: %w", block, err)
	}
	return b, nil
}

// writeBlock writes one whole block
func (fs *FileSystem) writeBlock(block uint32, b []byte) error {
	if err := fs.writeAt(b, fs.blockOffset(block)); err != nil {
		return fmt.Errorf("failed to write block %d: %w", block, err)
	}
	return nil
}

// readAt fills b from the image at the given offset relative to the
// filesystem start
func (fs *FileSystem) readAt(b []byte, offset int64) error {
	_, err := fs.backend.ReadAt(b, fs.start+offset)
	return err
}

// writeAt writes b to the image at the given offset relative to the
// filesystem start
func (fs *FileSystem) writeAt(b []byte, offset int64) error {
	w, err := fs.backend.Writable()
	if err != nil {
		return err
	}
	_, err = w.WriteAt(b, fs.start+offset)
	return err
}

// splitPath separates a path into its parent directory and final component
func splitPath(p string) (parent, name string) {
	p = strings.TrimSuffix(p, "/")
	pos := strings.LastIndex(p, "/")
	switch {
	case pos < 0:
		return "/", p
	case pos == 0:
		return "/", p[1:]
	default:
		return p[:pos], p[pos+1:]
	}
}
