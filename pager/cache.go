package pager

// cache is the pager's page cache (§4.2.4): an open-addressing-free hash
// table of page objects keyed by page number (here, Go's built-in map
// fills that role), grown implicitly by the runtime, plus two explicit
// intrusive doubly-linked lists for dirty and hot-dirty pages so commit and
// spill can splice/merge-sort them without a full table scan.
type cache struct {
	pages map[uint64]*Page

	dirtyHead, dirtyTail *Page
	nDirty               int

	hotHead, hotTail *Page
	nHot             int
}

func newCache() *cache {
	return &cache{pages: make(map[uint64]*Page)}
}

func (c *cache) get(pgno uint64) *Page { return c.pages[pgno] }

func (c *cache) put(p *Page) { c.pages[p.No] = p }

func (c *cache) delete(pgno uint64) { delete(c.pages, pgno) }

func (c *cache) ref(p *Page) { p.refCount++ }

// unref drops a reference; if the page is unreferenced and clean it is
// evicted outright, and if unreferenced-but-dirty (and not flagged
// DontMakeHot) it is spliced onto the hot-dirty list as a spill candidate
// (§4.2.4).
func (c *cache) unref(p *Page) {
	p.refCount--
	if p.refCount > 0 {
		return
	}
	if !p.Dirty {
		c.delete(p.No)
		return
	}
	if !p.DontMakeHot && !p.HotDirty {
		c.spliceHot(p)
	}
}

func (c *cache) markDirty(p *Page) {
	if p.Dirty {
		return
	}
	p.Dirty = true
	c.spliceDirty(p)
}

func (c *cache) spliceDirty(p *Page) {
	if p.dirtyNext != nil || p.dirtyPrev != nil || c.dirtyHead == p {
		return
	}
	p.dirtyPrev = c.dirtyTail
	if c.dirtyTail != nil {
		c.dirtyTail.dirtyNext = p
	} else {
		c.dirtyHead = p
	}
	c.dirtyTail = p
	c.nDirty++
}

func (c *cache) removeDirty(p *Page) {
	if !p.Dirty && p.dirtyNext == nil && p.dirtyPrev == nil && c.dirtyHead != p {
		return
	}
	if p.dirtyPrev != nil {
		p.dirtyPrev.dirtyNext = p.dirtyNext
	} else if c.dirtyHead == p {
		c.dirtyHead = p.dirtyNext
	}
	if p.dirtyNext != nil {
		p.dirtyNext.dirtyPrev = p.dirtyPrev
	} else if c.dirtyTail == p {
		c.dirtyTail = p.dirtyPrev
	}
	p.dirtyNext, p.dirtyPrev = nil, nil
	p.Dirty = false
	c.nDirty--
}

func (c *cache) spliceHot(p *Page) {
	if p.HotDirty {
		return
	}
	p.HotDirty = true
	p.hotPrev = c.hotTail
	if c.hotTail != nil {
		c.hotTail.hotNext = p
	} else {
		c.hotHead = p
	}
	c.hotTail = p
	c.nHot++
}

func (c *cache) removeHot(p *Page) {
	if !p.HotDirty {
		return
	}
	if p.hotPrev != nil {
		p.hotPrev.hotNext = p.hotNext
	} else if c.hotHead == p {
		c.hotHead = p.hotNext
	}
	if p.hotNext != nil {
		p.hotNext.hotPrev = p.hotPrev
	} else if c.hotTail == p {
		c.hotTail = p.hotPrev
	}
	p.hotNext, p.hotPrev = nil, nil
	p.HotDirty = false
	c.nHot--
}

// dirtyPages returns every dirty page sorted by page number, via a 32-bucket
// bottom-up merge sort (§4.2.4) so the commit path writes pages to disk in
// locality order.
func (c *cache) dirtyPages() []*Page {
	var out []*Page
	for p := c.dirtyHead; p != nil; p = p.dirtyNext {
		out = append(out, p)
	}
	return mergeSortPages(out)
}

// hotPages returns every hot-dirty page, oldest first, for spill.
func (c *cache) hotPages() []*Page {
	var out []*Page
	for p := c.hotHead; p != nil; p = p.hotNext {
		out = append(out, p)
	}
	return out
}
