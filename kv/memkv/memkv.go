// Package memkv implements the in-memory chained hash table KV engine used
// for ":memory:" databases and as the always-available fallback engine
// (§4.4).
package memkv

import (
	"unqlite/kv"
)

const Name = "hash"

type record struct {
	hash uint32
	key  []byte
	data []byte

	// bucket chain
	bucketNext *record
	// global insertion-order list, used by first/last/next/prev cursors
	insNext, insPrev *record
}

// Engine is the chained hash table store (§4.4): fill factor 4, doubling
// growth up to a configurable cap, insertion order preserved for cursor
// traversal.
type Engine struct {
	opts kv.EngineOptions

	buckets []*record
	count   int

	insHead, insTail *record

	hashFn kv.HashFunc
	cmpFn  kv.CmpFunc
}

func New() *Engine { return &Engine{} }

func (e *Engine) Name() string { return Name }

func (e *Engine) Init(opts kv.EngineOptions) error {
	if opts.HashBucketCap == 0 {
		opts = kv.DefaultEngineOptions()
	}
	e.opts = opts
	e.hashFn = kv.DefaultHash
	e.cmpFn = kv.DefaultCompare
	e.buckets = make([]*record, 16)
	return nil
}

func (e *Engine) Release() error { return nil }

func (e *Engine) Open(dbSize int64) error { return nil }

func (e *Engine) Config(cmd kv.ConfigCommand) error {
	if e.count > 0 {
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

func (e *Engine) bucketIndex(h uint32) int { return int(h) % len(e.buckets) }

func (e *Engine) find(key []byte) (*record, int) {
	h := e.hashFn(key)
	idx := e.bucketIndex(h)
	for r := e.buckets[idx]; r != nil; r = r.bucketNext {
		if r.hash == h && e.cmpFn(r.key, key) == 0 {
			return r, idx
		}
	}
	return nil, idx
}

func (e *Engine) maybeGrow() {
	if len(e.buckets)*e.opts.HashGrowFactor > e.count || len(e.buckets) >= e.opts.HashBucketCap {
		return
	}
	newSize := len(e.buckets) * 2
	if newSize > e.opts.HashBucketCap {
		newSize = e.opts.HashBucketCap
	}
	newBuckets := make([]*record, newSize)
	for r := e.insHead; r != nil; r = r.insNext {
		idx := int(r.hash) % newSize
		r.bucketNext = newBuckets[idx]
		newBuckets[idx] = r
	}
	e.buckets = newBuckets
}

// Replace implements both insert and update (§4.3 "replace").
func (e *Engine) Replace(key, data []byte) error {
	if r, _ := e.find(key); r != nil {
		r.data = append([]byte(nil), data...)
		return nil
	}
	return e.insert(key, data)
}

// Append concatenates data onto the existing value for key, or inserts it as
// a new record if key is absent (§4.3 "append").
func (e *Engine) Append(key, data []byte) error {
	if r, _ := e.find(key); r != nil {
		r.data = append(r.data, data...)
		return nil
	}
	return e.insert(key, data)
}

func (e *Engine) insert(key, data []byte) error {
	h := e.hashFn(key)
	r := &record{
		hash: h,
		key:  append([]byte(nil), key...),
		data: append([]byte(nil), data...),
	}
	idx := e.bucketIndex(h)
	r.bucketNext = e.buckets[idx]
	e.buckets[idx] = r

	r.insPrev = e.insTail
	if e.insTail != nil {
		e.insTail.insNext = r
	} else {
		e.insHead = r
	}
	e.insTail = r
	e.count++
	e.maybeGrow()
	return nil
}

func (e *Engine) delete(r *record) {
	idx := e.bucketIndex(r.hash)
	if e.buckets[idx] == r {
		e.buckets[idx] = r.bucketNext
	} else {
		for p := e.buckets[idx]; p != nil; p = p.bucketNext {
			if p.bucketNext == r {
				p.bucketNext = r.bucketNext
				break
			}
		}
	}
	if r.insPrev != nil {
		r.insPrev.insNext = r.insNext
	} else {
		e.insHead = r.insNext
	}
	if r.insNext != nil {
		r.insNext.insPrev = r.insPrev
	} else {
		e.insTail = r.insPrev
	}
	e.count--
}

func (e *Engine) Delete(c kv.Cursor) error {
	cur, ok := c.(*Cursor)
	if !ok || cur.cur == nil {
		return kv.New(kv.NotFound)
	}
	next := cur.cur.insNext
	e.delete(cur.cur)
	cur.cur = next
	return nil
}

func (e *Engine) NewCursor() kv.Cursor { return &Cursor{e: e} }

// Cursor iterates the insertion-order list (§4.4).
type Cursor struct {
	e   *Engine
	cur *record
}

func (c *Cursor) Release() error { c.cur = nil; return nil }

func (c *Cursor) Seek(key []byte, mode kv.SeekMode) error {
	if mode != kv.SeekExact {
		return kv.New(kv.NotImplemented)
	}
	r, _ := c.e.find(key)
	if r == nil {
		c.cur = nil
		return kv.New(kv.NotFound)
	}
	c.cur = r
	return nil
}

func (c *Cursor) First() error {
	c.cur = c.e.insHead
	if c.cur == nil {
		return kv.New(kv.EOF)
	}
	return nil
}

func (c *Cursor) Last() error {
	c.cur = c.e.insTail
	if c.cur == nil {
		return kv.New(kv.EOF)
	}
	return nil
}

func (c *Cursor) Valid() bool { return c.cur != nil }

func (c *Cursor) Next() error {
	if c.cur == nil {
		return kv.New(kv.EOF)
	}
	c.cur = c.cur.insNext
	if c.cur == nil {
		return kv.New(kv.EOF)
	}
	return nil
}

func (c *Cursor) Prev() error {
	if c.cur == nil {
		return kv.New(kv.EOF)
	}
	c.cur = c.cur.insPrev
	if c.cur == nil {
		return kv.New(kv.EOF)
	}
	return nil
}

func (c *Cursor) Reset() { c.cur = nil }

func (c *Cursor) KeyLen() (int, error) {
	if c.cur == nil {
		return 0, kv.New(kv.NotFound)
	}
	return len(c.cur.key), nil
}

func (c *Cursor) Key(consumer kv.Consumer) error {
	if c.cur == nil {
		return kv.New(kv.NotFound)
	}
	return consumer.Accept(c.cur.key)
}

func (c *Cursor) DataLen() (int, error) {
	if c.cur == nil {
		return 0, kv.New(kv.NotFound)
	}
	return len(c.cur.data), nil
}

func (c *Cursor) Data(consumer kv.Consumer) error {
	if c.cur == nil {
		return kv.New(kv.NotFound)
	}
	return consumer.Accept(c.cur.data)
}
