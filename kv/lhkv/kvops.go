package lhkv

import (
	"unqlite/kv"
)

// cellLocation names a cell by the page that holds its header and its
// byte offset on that page.
type cellLocation struct {
	pgno   uint64
	offset uint16
}

// chainPages returns the master page number followed by every slave page
// chained from it (§4.5.3 step 2: "Load the master page and all slave
// pages chained via the page header's slave field").
func (e *Engine) chainPages(master uint64) ([]uint64, error) {
	pages := []uint64{master}
	cur := master
	seen := map[uint64]bool{master: true}
	for {
		pg, err := e.pager.Get(cur)
		if err != nil {
			return nil, err
		}
		h := readPageHead(pg.Data)
		e.pager.Unref(pg)
		if h.slave == 0 || seen[h.slave] {
			break
		}
		pages = append(pages, h.slave)
		seen[h.slave] = true
		cur = h.slave
	}
	return pages, nil
}

func (e *Engine) cellMatchesKey(pgno uint64, c cell, key []byte) (bool, error) {
	if int(c.keyLen) != len(key) {
		return false, nil
	}
	if c.overflow == 0 {
		pg, err := e.pager.Get(pgno)
		if err != nil {
			return false, err
		}
		start := int(c.offset) + cellHeaderSize
		local := pg.Data[start : start+int(c.keyLen)]
		eq := e.cmpFn(local, key) == 0
		e.pager.Unref(pg)
		return eq, nil
	}
	got, err := e.readOverflowKey(c.overflow, int(c.keyLen))
	if err != nil {
		return false, err
	}
	return e.cmpFn(got, key) == 0, nil
}

// findCell searches a bucket's full page chain for a cell matching key,
// comparing by hash first and only reading payload bytes (local or
// streamed through overflow) when the hash collides (§4.5.3 step 2).
func (e *Engine) findCell(master uint64, h uint32, key []byte) (cellLocation, cell, bool, error) {
	pages, err := e.chainPages(master)
	if err != nil {
		return cellLocation{}, cell{}, false, err
	}
	for _, pgno := range pages {
		pg, err := e.pager.Get(pgno)
		if err != nil {
			return cellLocation{}, cell{}, false, err
		}
		offsets := walkCells(pg.Data)
		e.pager.Unref(pg)
		for _, off := range offsets {
			pg2, err := e.pager.Get(pgno)
			if err != nil {
				return cellLocation{}, cell{}, false, err
			}
			c := readCell(pg2.Data, off)
			e.pager.Unref(pg2)
			if c.hash != h {
				continue
			}
			match, err := e.cellMatchesKey(pgno, c, key)
			if err != nil {
				return cellLocation{}, cell{}, false, err
			}
			if match {
				return cellLocation{pgno: pgno, offset: off}, c, true, nil
			}
		}
	}
	return cellLocation{}, cell{}, false, nil
}

// Replace implements insert-or-update (§4.5.3). Updates are performed as a
// delete of the prior cell (and its overflow chain, if any) followed by a
// fresh insert; this trades the original's in-place byte reuse for a
// single, uniform code path shared with insert.
func (e *Engine) Replace(key, data []byte) error {
	h := e.hashFn(key)
	b := e.lookupBucket(h)

	master, ok := e.pageForBucket(b)
	if !ok {
		pgno, _, err := e.acquirePage()
		if err != nil {
			return err
		}
		pg, err := e.pager.GetWritable(pgno)
		if err != nil {
			return err
		}
		initPageBuf(pg.Data)
		e.pager.Unref(pg)
		e.installBucketPage(b, pgno)
		master = pgno
	} else {
		loc, c, found, err := e.findCell(master, h, key)
		if err != nil {
			return err
		}
		if found {
			if err := e.deleteCellAt(loc, c); err != nil {
				return err
			}
		}
	}

	grew, err := e.insertCell(master, h, key, data)
	if err != nil {
		return err
	}
	if grew {
		if err := e.maybeSplit(); err != nil {
			return err
		}
	}
	return e.flushHeader()
}

// Append concatenates data onto the existing value for key, or inserts it as
// a new record if key is absent (§4.3 "append"). Like Replace, an existing
// match is deleted and reinserted with the combined payload.
func (e *Engine) Append(key, data []byte) error {
	h := e.hashFn(key)
	b := e.lookupBucket(h)
	master, ok := e.pageForBucket(b)
	if !ok {
		pgno, _, err := e.acquirePage()
		if err != nil {
			return err
		}
		pg, err := e.pager.GetWritable(pgno)
		if err != nil {
			return err
		}
		initPageBuf(pg.Data)
		e.pager.Unref(pg)
		e.installBucketPage(b, pgno)
		master = pgno
	} else {
		loc, c, found, err := e.findCell(master, h, key)
		if err != nil {
			return err
		}
		if found {
			_, existing, err := e.readCellPayload(loc.pgno, c)
			if err != nil {
				return err
			}
			data = append(existing, data...)
			if err := e.deleteCellAt(loc, c); err != nil {
				return err
			}
		}
	}
	grew, err := e.insertCell(master, h, key, data)
	if err != nil {
		return err
	}
	if grew {
		if err := e.maybeSplit(); err != nil {
			return err
		}
	}
	return e.flushHeader()
}

// insertCell allocates space for a new cell somewhere on master's chain,
// allocating a new slave page only as a last resort (§4.5.3 steps 4-6).
// grew reports whether a new slave page was needed, which is this engine's
// split trigger (§4.5.4: "triggered when an insert goes to a full page").
func (e *Engine) insertCell(master uint64, h uint32, key, data []byte) (grew bool, err error) {
	pages, err := e.chainPages(master)
	if err != nil {
		return false, err
	}

	local := cellHeaderSize + len(key) + len(data)
	for _, pgno := range pages {
		if ok, err := e.tryInsertLocal(pgno, h, key, data, local); err != nil {
			return false, err
		} else if ok {
			return false, nil
		}
	}
	// Header-only cell with payload pushed to an overflow chain.
	for _, pgno := range pages {
		if ok, err := e.tryInsertOverflow(pgno, h, key, data); err != nil {
			return false, err
		} else if ok {
			return false, nil
		}
	}
	// Nothing fit anywhere on the chain: allocate a new slave page.
	newSlave, _, err := e.acquirePage()
	if err != nil {
		return false, err
	}
	pg, err := e.pager.GetWritable(newSlave)
	if err != nil {
		return false, err
	}
	initPageBuf(pg.Data)
	e.pager.Unref(pg)

	tail := pages[len(pages)-1]
	tailPg, err := e.pager.GetWritable(tail)
	if err != nil {
		return false, err
	}
	th := readPageHead(tailPg.Data)
	th.slave = newSlave
	writePageHead(tailPg.Data, th)
	e.pager.Unref(tailPg)

	if ok, err := e.tryInsertLocal(newSlave, h, key, data, local); err != nil {
		return false, err
	} else if !ok {
		if ok2, err := e.tryInsertOverflow(newSlave, h, key, data); err != nil {
			return false, err
		} else if !ok2 {
			return false, kv.New(kv.Full)
		}
	}
	return true, nil
}

func (e *Engine) tryInsertLocal(pgno uint64, h uint32, key, data []byte, need int) (bool, error) {
	pg, err := e.pager.GetWritable(pgno)
	if err != nil {
		return false, err
	}
	off, ok := allocateCell(pg.Data, need)
	if !ok && pageFreeSpace(pg.Data) >= need {
		pg.Data = defragment(pg.Data, collectPayloads(pg.Data))
		off, ok = allocateCell(pg.Data, need)
	}
	if !ok {
		e.pager.Unref(pg)
		return false, nil
	}
	c := cell{hash: h, keyLen: uint32(len(key)), dataLen: uint64(len(data)), overflow: 0}
	writeCellHeader(pg.Data, off, c)
	copy(pg.Data[int(off)+cellHeaderSize:], key)
	copy(pg.Data[int(off)+cellHeaderSize+len(key):], data)
	linkCellHead(pg.Data, off)
	e.pager.Unref(pg)
	return true, nil
}

func (e *Engine) tryInsertOverflow(pgno uint64, h uint32, key, data []byte) (bool, error) {
	pg, err := e.pager.GetWritable(pgno)
	if err != nil {
		return false, err
	}
	off, ok := allocateCell(pg.Data, cellHeaderSize)
	if !ok && pageFreeSpace(pg.Data) >= cellHeaderSize {
		pg.Data = defragment(pg.Data, collectPayloads(pg.Data))
		off, ok = allocateCell(pg.Data, cellHeaderSize)
	}
	e.pager.Unref(pg)
	if !ok {
		return false, nil
	}
	firstOverflow, err := e.writeOverflowChain(key, data)
	if err != nil {
		return false, err
	}
	pg2, err := e.pager.GetWritable(pgno)
	if err != nil {
		return false, err
	}
	c := cell{hash: h, keyLen: uint32(len(key)), dataLen: uint64(len(data)), overflow: firstOverflow}
	writeCellHeader(pg2.Data, off, c)
	linkCellHead(pg2.Data, off)
	e.pager.Unref(pg2)
	return true, nil
}

// collectPayloads reads every cell's local key+data bytes ahead of a
// defragment pass, since defragment must copy payload alongside headers.
func collectPayloads(buf []byte) map[uint16][]byte {
	out := make(map[uint16][]byte)
	for _, off := range walkCells(buf) {
		c := readCell(buf, off)
		if c.overflow != 0 {
			out[off] = nil
			continue
		}
		start := int(off) + cellHeaderSize
		n := int(c.keyLen) + int(c.dataLen)
		out[off] = append([]byte(nil), buf[start:start+n]...)
	}
	return out
}

func (e *Engine) deleteCellAt(loc cellLocation, c cell) error {
	if c.overflow != 0 {
		if err := e.releaseOverflowChain(c.overflow); err != nil {
			return err
		}
	}
	pg, err := e.pager.GetWritable(loc.pgno)
	if err != nil {
		return err
	}
	unlinkCell(pg.Data, loc.offset)
	var length int
	if c.overflow == 0 {
		length = cellHeaderSize + int(c.keyLen) + int(c.dataLen)
	} else {
		length = cellHeaderSize
	}
	freeRange(pg.Data, loc.offset, uint16(length))
	e.pager.Unref(pg)
	return nil
}

func (e *Engine) releaseOverflowChain(first uint64) error {
	next := first
	seen := map[uint64]bool{}
	for next != 0 && !seen[next] {
		seen[next] = true
		pg, err := e.pager.Get(next)
		if err != nil {
			return err
		}
		following := getU64(pg.Data[0:8])
		e.pager.Unref(pg)
		if err := e.releasePage(next); err != nil {
			return err
		}
		next = following
	}
	return nil
}

// Delete removes the cell the cursor is positioned on (§4.5.3 "Delete").
func (e *Engine) Delete(c kv.Cursor) error {
	cur, ok := c.(*Cursor)
	if !ok || !cur.Valid() {
		return kv.New(kv.NotFound)
	}
	loc := cellLocation{pgno: cur.pgno, offset: cur.offset}
	cellCopy := cur.cell
	if err := e.advancePastDelete(cur); err != nil {
		return err
	}
	if err := e.deleteCellAt(loc, cellCopy); err != nil {
		return err
	}
	return e.flushHeader()
}
