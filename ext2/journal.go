package ext2

// jbd2Signature the magic number of a jbd2 journal block
const jbd2Signature uint32 = 0xC03B3998

// journalSuperblock describes the journal area. The journal itself is never
// replayed or written; revision >= 1 images get a placeholder record so the
// mount carries the journal geometry around.
type journalSuperblock struct {
	magic      uint32
	blockType  uint32
	sequence   uint32
	blockSize  uint32
	maxLen     uint32
	first      uint32
	sequenceID uint32
	start      uint32
}

type journal struct {
	superblock journalSuperblock
}

// placeholderJournal the stand-in attached at mount for revision >= 1 images
func placeholderJournal(blockSize uint32) *journal {
	return &journal{
		superblock: journalSuperblock{
			magic:     jbd2Signature,
			blockSize: blockSize,
		},
	}
}
