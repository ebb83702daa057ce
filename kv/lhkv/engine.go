// Package lhkv implements the on-disk linear-hash key/value engine (§4.5):
// extensible hashing over pages obtained from the pager, with overflow
// chains for oversized keys/values and a free list for page reuse. This is
// the central algorithm of the storage core — file-backed databases inherit
// full ACID behavior for free because every mutation flows through
// pager-managed pages.
package lhkv

import (
	"unqlite/kv"
	"unqlite/pager"
)

const Name = "lhash"

// Engine is the linear-hash KV engine. It never touches the file directly;
// every byte it reads or writes passes through the owning pager, so crash
// recovery and transaction boundaries are inherited rather than
// reimplemented.
type Engine struct {
	pager *pager.Pager

	opts kv.EngineOptions

	hdr         engineHeader
	dirtyHeader bool

	bucketCache map[uint64]uint64 // logical bucket -> real page

	hashFn kv.HashFunc
	cmpFn  kv.CmpFunc

	kvHeaderOffset int
}

// New builds a linear-hash engine bound to p. kvHeaderOffset is where the
// engine's own header may begin within page 1, after the database header
// (pager.KVHeaderOffset).
func New(p *pager.Pager, kvHeaderOffset int) *Engine {
	return &Engine{pager: p, kvHeaderOffset: kvHeaderOffset}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Init(opts kv.EngineOptions) error {
	if opts.HashBucketCap == 0 {
		opts = kv.DefaultEngineOptions()
	}
	e.opts = opts
	e.hashFn = kv.DefaultHash
	e.cmpFn = kv.DefaultCompare
	e.bucketCache = make(map[uint64]uint64)
	return nil
}

func (e *Engine) Release() error { return nil }

func isAllZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

func (e *Engine) freshHeader() {
	e.hdr = engineHeader{
		hashFingerprint: kv.DefaultHashFingerprint,
		splitBucket:     0,
		maxSplitBucket:  1,
	}
	e.dirtyHeader = true
}

// Open loads the engine header and full bucket map (§4.5.1: "The map is
// loaded into an in-memory hash table ... on open"). dbSize == 0 means the
// database file itself is brand new; a nonzero dbSize whose page-1 KV
// region is still all zero (the state a freshly bootstrapped page 1 is
// left in, §6.1) is treated the same way rather than as corruption.
func (e *Engine) Open(dbSize int64) error {
	if dbSize == 0 {
		// The database file itself doesn't exist on disk yet; page 1 isn't
		// allocated, so the header can't be flushed until the first
		// mutation (Replace/Append already calls flushHeader at the end).
		e.freshHeader()
		e.bucketCache = make(map[uint64]uint64)
		return nil
	}
	page1, err := e.pager.Get(1)
	if err != nil {
		return err
	}
	region := append([]byte(nil), page1.Data[e.kvHeaderOffset:]...)
	e.pager.Unref(page1)

	if isAllZero(region) {
		e.freshHeader()
		return nil
	}

	hdr, _, err := decodeEngineHeader(region)
	if err != nil {
		return err
	}
	e.hdr = hdr

	e.bucketCache = make(map[uint64]uint64, len(hdr.records)*2)
	for _, r := range hdr.records {
		e.bucketCache[r.logicalBucket] = r.realPage
	}
	next := hdr.nextMapPage
	seen := make(map[uint64]bool)
	for next != 0 && !seen[next] {
		seen[next] = true
		pg, err := e.pager.Get(next)
		if err != nil {
			return err
		}
		following, recs := decodeMapPage(pg.Data)
		e.pager.Unref(pg)
		for _, r := range recs {
			e.bucketCache[r.logicalBucket] = r.realPage
		}
		next = following
	}
	return nil
}

func (e *Engine) Config(cmd kv.ConfigCommand) error {
	cells, err := e.allCells()
	if err != nil {
		return err
	}
	if len(cells) > 0 {
		return kv.New(kv.Locked)
	}
	switch cmd.Op {
	case kv.ConfigHashFunction:
		if cmd.Hash != nil {
			e.hashFn = cmd.Hash
		}
	case kv.ConfigCmpFunction:
		if cmd.Compare != nil {
			e.cmpFn = cmd.Compare
		}
	}
	return nil
}

// flushHeader writes the engine header (free-list head, split state, and as
// many inline map records as fit) back into page 1.
func (e *Engine) flushHeader() error {
	if !e.dirtyHeader {
		return nil
	}
	// The map-page chain is rewritten first: doing so moves the free-list
	// head and the next-map-page pointer, both of which page 1 records.
	avail := e.pager.PageSize() - e.kvHeaderOffset
	inline, overflowRecs := e.splitInlineRecords(avail)
	if len(overflowRecs) > 0 {
		if err := e.writeMapOverflow(overflowRecs); err != nil {
			return err
		}
	}

	page1, err := e.pager.GetWritable(1)
	if err != nil {
		return err
	}
	e.hdr.records = inline
	buf := encodeEngineHeader(e.hdr, avail)
	copy(page1.Data[e.kvHeaderOffset:], buf)
	e.pager.Unref(page1)
	e.dirtyHeader = false
	return nil
}

// splitInlineRecords decides how many bucket-map records live in page 1
// itself versus a chain of dedicated map pages.
func (e *Engine) splitInlineRecords(avail int) (inline []mapRecord, overflow []mapRecord) {
	maxInline := (avail - engineHeaderFixedSize) / mapRecordSize
	all := make([]mapRecord, 0, len(e.bucketCache))
	for b, p := range e.bucketCache {
		all = append(all, mapRecord{logicalBucket: b, realPage: p})
	}
	if len(all) <= maxInline {
		return all, nil
	}
	return all[:maxInline], all[maxInline:]
}

// releaseMapChain walks an existing map-page chain and returns every page to
// the free list, so writeMapOverflow never leaks the chain it is about to
// replace (§4.5.1, free-list conservation).
func (e *Engine) releaseMapChain(first uint64) error {
	next := first
	seen := make(map[uint64]bool)
	for next != 0 && !seen[next] {
		seen[next] = true
		pg, err := e.pager.Get(next)
		if err != nil {
			return err
		}
		following, _ := decodeMapPage(pg.Data)
		e.pager.Unref(pg)
		if err := e.releasePage(next); err != nil {
			return err
		}
		next = following
	}
	return nil
}

func (e *Engine) writeMapOverflow(records []mapRecord) error {
	if err := e.releaseMapChain(e.hdr.nextMapPage); err != nil {
		return err
	}

	pageSize := e.pager.PageSize()
	batchCap := mapPageCapacity(pageSize)

	var batches [][]mapRecord
	for len(records) > 0 {
		n := len(records)
		if n > batchCap {
			n = batchCap
		}
		batches = append(batches, records[:n])
		records = records[n:]
	}

	chain := make([]uint64, len(batches))
	for i := range batches {
		pgno, _, err := e.acquirePage()
		if err != nil {
			return err
		}
		chain[i] = pgno
	}

	for i, pgno := range chain {
		var next uint64
		if i+1 < len(chain) {
			next = chain[i+1]
		}
		pg, err := e.pager.GetWritable(pgno)
		if err != nil {
			return err
		}
		copy(pg.Data, encodeMapPage(next, batches[i], pageSize))
		e.pager.Unref(pg)
	}

	if len(chain) > 0 {
		e.hdr.nextMapPage = chain[0]
	} else {
		e.hdr.nextMapPage = 0
	}
	return nil
}

// lookupBucket implements the key→bucket formula (§4.5.2, §3 invariant).
func (e *Engine) lookupBucket(h uint32) uint64 {
	max := e.hdr.maxSplitBucket
	if max == 0 {
		max = 1
	}
	b := uint64(h) % (2 * max)
	if b >= e.hdr.splitBucket+max {
		b = uint64(h) % max
	}
	return b
}

func (e *Engine) pageForBucket(b uint64) (uint64, bool) {
	pgno, ok := e.bucketCache[b]
	return pgno, ok
}

func (e *Engine) installBucketPage(b uint64, pgno uint64) {
	e.bucketCache[b] = pgno
	e.dirtyHeader = true
}
