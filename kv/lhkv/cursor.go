package lhkv

import (
	"sort"

	"unqlite/kv"
)

// orderedBuckets returns the logical bucket numbers with a page in ascending
// order, giving first/last/next/prev a stable traversal order (§4.5.5:
// "iterate map-record list from head/tail").
func (e *Engine) orderedBuckets() []uint64 {
	out := make([]uint64, 0, len(e.bucketCache))
	for b := range e.bucketCache {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// allCells snapshots every live (page, offset) cell location across every
// bucket, in traversal order. Cursors iterate this snapshot: simpler than
// re-walking the live map-record chain on every step, at the cost of not
// observing structural changes made after the cursor was positioned (the
// interface already allows this — "a cursor may outlive insertions").
func (e *Engine) allCells() ([]cellLocation, error) {
	var out []cellLocation
	for _, b := range e.orderedBuckets() {
		master := e.bucketCache[b]
		pages, err := e.chainPages(master)
		if err != nil {
			return nil, err
		}
		for _, pgno := range pages {
			pg, err := e.pager.Get(pgno)
			if err != nil {
				return nil, err
			}
			offsets := walkCells(pg.Data)
			e.pager.Unref(pg)
			for _, off := range offsets {
				out = append(out, cellLocation{pgno: pgno, offset: off})
			}
		}
	}
	return out, nil
}

// Cursor iterates the linear-hash engine's cells (§4.5.5).
type Cursor struct {
	e *Engine

	snapshot []cellLocation
	pos      int

	pgno   uint64
	offset uint16
	cell   cell
	valid  bool
}

func (e *Engine) NewCursor() kv.Cursor { return &Cursor{e: e} }

func (c *Cursor) Release() error { c.valid = false; return nil }

func (c *Cursor) load(loc cellLocation) error {
	pg, err := c.e.pager.Get(loc.pgno)
	if err != nil {
		return err
	}
	c.cell = readCell(pg.Data, loc.offset)
	c.e.pager.Unref(pg)
	c.pgno = loc.pgno
	c.offset = loc.offset
	c.valid = true
	return nil
}

// Seek supports exact-match only: linear-hash has no intrinsic order, so
// LE/GE are NOTIMPLEMENTED (§4.5.5).
func (c *Cursor) Seek(key []byte, mode kv.SeekMode) error {
	if mode != kv.SeekExact {
		return kv.New(kv.NotImplemented)
	}
	h := c.e.hashFn(key)
	b := c.e.lookupBucket(h)
	master, ok := c.e.pageForBucket(b)
	if !ok {
		c.valid = false
		return kv.New(kv.NotFound)
	}
	loc, _, found, err := c.e.findCell(master, h, key)
	if err != nil {
		return err
	}
	if !found {
		c.valid = false
		return kv.New(kv.NotFound)
	}
	c.snapshot = nil
	return c.load(loc)
}

func (c *Cursor) First() error {
	snap, err := c.e.allCells()
	if err != nil {
		return err
	}
	c.snapshot = snap
	c.pos = 0
	if len(snap) == 0 {
		c.valid = false
		return kv.New(kv.EOF)
	}
	return c.load(snap[0])
}

func (c *Cursor) Last() error {
	snap, err := c.e.allCells()
	if err != nil {
		return err
	}
	c.snapshot = snap
	c.pos = len(snap) - 1
	if len(snap) == 0 {
		c.valid = false
		return kv.New(kv.EOF)
	}
	return c.load(snap[len(snap)-1])
}

func (c *Cursor) Valid() bool { return c.valid }

func (c *Cursor) Next() error {
	if c.snapshot == nil || c.pos+1 >= len(c.snapshot) {
		c.valid = false
		return kv.New(kv.EOF)
	}
	c.pos++
	return c.load(c.snapshot[c.pos])
}

func (c *Cursor) Prev() error {
	if c.snapshot == nil || c.pos-1 < 0 {
		c.valid = false
		return kv.New(kv.EOF)
	}
	c.pos--
	return c.load(c.snapshot[c.pos])
}

func (c *Cursor) Reset() { c.valid = false; c.snapshot = nil }

func (c *Cursor) KeyLen() (int, error) {
	if !c.valid {
		return 0, kv.New(kv.NotFound)
	}
	return int(c.cell.keyLen), nil
}

func (c *Cursor) Key(consumer kv.Consumer) error {
	if !c.valid {
		return kv.New(kv.NotFound)
	}
	if c.cell.overflow == 0 {
		pg, err := c.e.pager.Get(c.pgno)
		if err != nil {
			return err
		}
		start := int(c.offset) + cellHeaderSize
		key := pg.Data[start : start+int(c.cell.keyLen)]
		err = consumer.Accept(key)
		c.e.pager.Unref(pg)
		return err
	}
	key, err := c.e.readOverflowKey(c.cell.overflow, int(c.cell.keyLen))
	if err != nil {
		return err
	}
	return consumer.Accept(key)
}

func (c *Cursor) DataLen() (int, error) {
	if !c.valid {
		return 0, kv.New(kv.NotFound)
	}
	return int(c.cell.dataLen), nil
}

func (c *Cursor) Data(consumer kv.Consumer) error {
	if !c.valid {
		return kv.New(kv.NotFound)
	}
	if c.cell.overflow == 0 {
		pg, err := c.e.pager.Get(c.pgno)
		if err != nil {
			return err
		}
		start := int(c.offset) + cellHeaderSize + int(c.cell.keyLen)
		data := pg.Data[start : start+int(c.cell.dataLen)]
		err = consumer.Accept(data)
		c.e.pager.Unref(pg)
		return err
	}
	// The overflow payload is key-then-data; the first overflow page
	// records where the data half begins (§4.5.3).
	pg, err := c.e.pager.Get(c.cell.overflow)
	if err != nil {
		return err
	}
	o := decodeOverflowPage(pg.Data, true)
	c.e.pager.Unref(pg)
	data, err := c.e.readOverflowData(o.dataPage, o.dataOffset, c.cell.dataLen)
	if err != nil {
		return err
	}
	return consumer.Accept(data)
}

// advancePastDelete moves the cursor to its successor before the underlying
// cell is removed, matching §4.5.5: "deletions via the cursor advance it to
// the next sibling."
func (e *Engine) advancePastDelete(c *Cursor) error {
	if c.snapshot == nil {
		snap, err := e.allCells()
		if err != nil {
			return err
		}
		c.snapshot = snap
		for i, loc := range snap {
			if loc.pgno == c.pgno && loc.offset == c.offset {
				c.pos = i
				break
			}
		}
	}
	if c.pos+1 < len(c.snapshot) {
		c.pos++
		return c.load(c.snapshot[c.pos])
	}
	c.valid = false
	return nil
}
