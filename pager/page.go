package pager

// Page is the in-cache object wrapping one page-size chunk of the database
// file (§3 "Page"). The four intrusive lists the original C implementation
// threads through the page struct are represented here as two explicit
// doubly-linked lists (dirty, hot-dirty); the "all pages" list and the
// per-bucket collision list are both subsumed by the cache's own
// map[pageNo]*Page, which is the idiomatic Go equivalent of an intrusive
// hash table keyed by page number (§9 Design Notes: prefer arena/map-based
// lookup to hand-rolled collision chains).
type Page struct {
	No   uint64
	Data []byte

	Dirty       bool
	NeedSync    bool
	DontWrite   bool
	InJournal   bool
	HotDirty    bool
	DontMakeHot bool

	refCount int

	dirtyNext, dirtyPrev *Page
	hotNext, hotPrev     *Page
}

func newPage(no uint64, size int) *Page {
	return &Page{No: no, Data: make([]byte, size)}
}
