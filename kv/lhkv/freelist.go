package lhkv

// Free-list pages store only an 8-byte "next" pointer at offset 0 (§4.5.3
// "Free list"): the remainder of the page is never inspected, since the
// page is about to be fully rewritten by whatever claims it.

func (e *Engine) acquirePage() (uint64, []byte, error) {
	if e.hdr.freeListHead != 0 {
		pgno := e.hdr.freeListHead
		pg, err := e.pager.GetWritable(pgno)
		if err != nil {
			return 0, nil, err
		}
		next := getU64(pg.Data[0:8])
		e.hdr.freeListHead = next
		e.dirtyHeader = true
		buf := pg.Data
		e.pager.Unref(pg)
		return pgno, buf, nil
	}
	pg, err := e.pager.Allocate()
	if err != nil {
		return 0, nil, err
	}
	no := pg.No
	buf := pg.Data
	e.pager.Unref(pg)
	return no, buf, nil
}

func (e *Engine) releasePage(pgno uint64) error {
	pg, err := e.pager.GetWritable(pgno)
	if err != nil {
		return err
	}
	for i := range pg.Data {
		pg.Data[i] = 0
	}
	putU64(pg.Data[0:8], e.hdr.freeListHead)
	e.hdr.freeListHead = pgno
	e.dirtyHeader = true
	e.pager.Unref(pg)
	return nil
}
