package lhkv

// Primary KV page layout (§3 "Primary KV page", "Cell"):
//
//	[0:2]   firstCellOffset
//	[2:4]   firstFreeOffset
//	[4:12]  slavePage (0 if none)
//	[12:]   cells and free blocks, interleaved
//
// Cell (26-byte header):
//
//	[0:4]   key hash
//	[4:8]   key length
//	[8:16]  data length
//	[16:18] next-cell offset (0 = end of chain)
//	[18:26] overflow page (0 if payload is local)
//	[26:]   local payload (key bytes then data bytes), if it fits
//
// Free block:
//
//	[0:2] next-free offset (0 = end of chain)
//	[2:4] block length (including this 4-byte header)
const (
	pageHeaderSize  = 2 + 2 + 8
	cellHeaderSize  = 4 + 4 + 8 + 2 + 8
	freeBlockHeader = 2 + 2
	minFreeBlock    = 4
)

type pageHead struct {
	firstCell uint16
	firstFree uint16
	slave     uint64
}

func readPageHead(buf []byte) pageHead {
	return pageHead{
		firstCell: getU16(buf[0:2]),
		firstFree: getU16(buf[2:4]),
		slave:     getU64(buf[4:12]),
	}
}

func writePageHead(buf []byte, h pageHead) {
	putU16(buf[0:2], h.firstCell)
	putU16(buf[2:4], h.firstFree)
	putU64(buf[4:12], h.slave)
}

func initPageBuf(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	writePageHead(buf, pageHead{firstCell: 0, firstFree: uint16(pageHeaderSize), slave: 0})
	putU16(buf[pageHeaderSize:pageHeaderSize+2], 0)
	putU16(buf[pageHeaderSize+2:pageHeaderSize+4], uint16(len(buf)-pageHeaderSize))
}

type cell struct {
	offset    uint16
	hash      uint32
	keyLen    uint32
	dataLen   uint64
	nextCell  uint16
	overflow  uint64
	localSize int // bytes available after the header on this page, if local
}

func readCell(buf []byte, offset uint16) cell {
	b := buf[offset:]
	return cell{
		offset:   offset,
		hash:     getU32(b[0:4]),
		keyLen:   getU32(b[4:8]),
		dataLen:  getU64(b[8:16]),
		nextCell: getU16(b[16:18]),
		overflow: getU64(b[18:26]),
	}
}

func writeCellHeader(buf []byte, offset uint16, c cell) {
	b := buf[offset:]
	putU32(b[0:4], c.hash)
	putU32(b[4:8], c.keyLen)
	putU64(b[8:16], c.dataLen)
	putU16(b[16:18], c.nextCell)
	putU64(b[18:26], c.overflow)
}

type freeBlock struct {
	offset uint16
	next   uint16
	length uint16
}

func readFreeBlock(buf []byte, offset uint16) freeBlock {
	b := buf[offset:]
	return freeBlock{offset: offset, next: getU16(b[0:2]), length: getU16(b[2:4])}
}

func writeFreeBlock(buf []byte, fb freeBlock) {
	b := buf[fb.offset:]
	putU16(b[0:2], fb.next)
	putU16(b[2:4], fb.length)
}

// walkCells returns the offsets of every cell on a page's cell chain.
func walkCells(buf []byte) []uint16 {
	var out []uint16
	h := readPageHead(buf)
	off := h.firstCell
	seen := make(map[uint16]bool)
	for off != 0 && !seen[off] {
		seen[off] = true
		out = append(out, off)
		c := readCell(buf, off)
		off = c.nextCell
	}
	return out
}

// walkFreeBlocks returns the free-block chain in chain order, starting at the
// page head's first free block.
func walkFreeBlocks(buf []byte) []freeBlock {
	var out []freeBlock
	h := readPageHead(buf)
	off := h.firstFree
	seen := make(map[uint16]bool)
	for off != 0 && !seen[off] {
		seen[off] = true
		fb := readFreeBlock(buf, off)
		out = append(out, fb)
		off = fb.next
	}
	return out
}

// allocateCell carves a length-byte run for a new cell out of the first free
// block large enough to hold it; it does not link the run into the cell
// chain (callers do that). It returns the allocated offset, or ok=false
// if no contiguous free run of that size exists (defragmentation already
// attempted by the caller).
func allocateCell(buf []byte, length int) (offset uint16, ok bool) {
	h := readPageHead(buf)
	blocks := walkFreeBlocks(buf)
	for _, fb := range blocks {
		if int(fb.length) >= length {
			remaining := int(fb.length) - length
			if remaining >= minFreeBlock {
				newFree := freeBlock{offset: fb.offset + uint16(length), next: fb.next, length: uint16(remaining)}
				writeFreeBlock(buf, newFree)
				relinkFreeBlock(buf, fb.offset, newFree.offset)
			} else {
				relinkFreeBlock(buf, fb.offset, fb.next)
			}
			return fb.offset, true
		}
	}
	_ = h
	return 0, false
}

func relinkFreeBlock(buf []byte, oldOffset, newNext uint16) {
	h := readPageHead(buf)
	if h.firstFree == oldOffset {
		h.firstFree = newNext
		writePageHead(buf, h)
		return
	}
	off := h.firstFree
	seen := make(map[uint16]bool)
	for off != 0 && !seen[off] {
		seen[off] = true
		fb := readFreeBlock(buf, off)
		if fb.next == oldOffset {
			fb.next = newNext
			writeFreeBlock(buf, fb)
			return
		}
		off = fb.next
	}
}

// freeRange releases [offset, offset+length) back onto the free-block chain,
// provided it's at least minFreeBlock bytes (§4.5.3 step 3).
func freeRange(buf []byte, offset uint16, length uint16) {
	if length < minFreeBlock {
		return
	}
	h := readPageHead(buf)
	fb := freeBlock{offset: offset, next: h.firstFree, length: length}
	writeFreeBlock(buf, fb)
	h.firstFree = offset
	writePageHead(buf, h)
}

// unlinkCell removes offset from the cell chain. It does not free the bytes
// the cell occupied; the caller does that.
func unlinkCell(buf []byte, offset uint16) {
	h := readPageHead(buf)
	c := readCell(buf, offset)
	if h.firstCell == offset {
		h.firstCell = c.nextCell
		writePageHead(buf, h)
		return
	}
	off := h.firstCell
	seen := make(map[uint16]bool)
	for off != 0 && !seen[off] {
		seen[off] = true
		cur := readCell(buf, off)
		if cur.nextCell == offset {
			cur.nextCell = c.nextCell
			writeCellHeader(buf, off, cur)
			return
		}
		off = cur.nextCell
	}
}

// linkCellHead pushes offset onto the front of the cell chain.
func linkCellHead(buf []byte, offset uint16) {
	h := readPageHead(buf)
	c := readCell(buf, offset)
	c.nextCell = h.firstCell
	writeCellHeader(buf, offset, c)
	h.firstCell = offset
	writePageHead(buf, h)
}

// defragment rebuilds buf compacting all live cells to the front, in their
// current chain order, eliminating free-block fragmentation (§4.5.3 step 4).
func defragment(buf []byte, cellPayload map[uint16][]byte) []byte {
	out := make([]byte, len(buf))
	h := readPageHead(buf)
	cursor := uint16(pageHeaderSize + 4)
	offsets := walkCells(buf)
	remap := make(map[uint16]uint16, len(offsets))
	for _, off := range offsets {
		c := readCell(buf, off)
		payload := cellPayload[off]
		total := cellHeaderSize + len(payload)
		writeCellHeader(out, cursor, c)
		copy(out[int(cursor)+cellHeaderSize:], payload)
		remap[off] = cursor
		cursor += uint16(total)
	}
	newHead := pageHead{slave: h.slave}
	if len(offsets) > 0 {
		newHead.firstCell = remap[offsets[0]]
		for i := 0; i < len(offsets); i++ {
			c := readCell(out, remap[offsets[i]])
			if i+1 < len(offsets) {
				c.nextCell = remap[offsets[i+1]]
			} else {
				c.nextCell = 0
			}
			writeCellHeader(out, remap[offsets[i]], c)
		}
	}
	if int(cursor) < len(out) {
		newHead.firstFree = cursor
		writeFreeBlock(out, freeBlock{offset: cursor, next: 0, length: uint16(len(out)) - cursor})
	}
	writePageHead(out, newHead)
	return out
}

func pageFreeSpace(buf []byte) int {
	total := 0
	for _, fb := range walkFreeBlocks(buf) {
		total += int(fb.length)
	}
	return total
}
