package lhkv

import "unqlite/kv"

// maybeSplit performs one split step (§4.5.4). It is called after every
// insert that had to grow a bucket onto a new slave page.
func (e *Engine) maybeSplit() error {
	oldBucket := e.hdr.splitBucket
	oldMaster, ok := e.pageForBucket(oldBucket)
	if !ok {
		return e.advanceSplitCounters()
	}

	newBucket := oldBucket + e.hdr.maxSplitBucket
	newMaster, _, err := e.acquirePage()
	if err != nil {
		return err
	}
	pg, err := e.pager.GetWritable(newMaster)
	if err != nil {
		return err
	}
	initPageBuf(pg.Data)
	e.pager.Unref(pg)
	e.installBucketPage(newBucket, newMaster)

	pages, err := e.chainPages(oldMaster)
	if err != nil {
		return err
	}

	type moved struct {
		loc cellLocation
		c   cell
	}
	var toMove []moved
	for _, pgno := range pages {
		rp, err := e.pager.Get(pgno)
		if err != nil {
			return err
		}
		offsets := walkCells(rp.Data)
		e.pager.Unref(rp)
		for _, off := range offsets {
			rp2, err := e.pager.Get(pgno)
			if err != nil {
				return err
			}
			c := readCell(rp2.Data, off)
			e.pager.Unref(rp2)
			bNew := uint64(c.hash) % (2 * e.hdr.maxSplitBucket)
			if bNew != oldBucket {
				toMove = append(toMove, moved{loc: cellLocation{pgno: pgno, offset: off}, c: c})
			}
		}
	}

	for _, m := range toMove {
		key, data, err := e.readCellPayload(m.loc.pgno, m.c)
		if err != nil {
			return err
		}
		if err := e.deleteCellAt(m.loc, m.c); err != nil {
			return err
		}
		if _, err := e.insertCell(newMaster, m.c.hash, key, data); err != nil {
			return err
		}
	}

	return e.advanceSplitCounters()
}

// readCellPayload materializes a cell's key and data, streaming through the
// overflow chain when present.
func (e *Engine) readCellPayload(pgno uint64, c cell) (key, data []byte, err error) {
	if c.overflow == 0 {
		pg, err := e.pager.Get(pgno)
		if err != nil {
			return nil, nil, err
		}
		start := int(c.offset) + cellHeaderSize
		key = append([]byte(nil), pg.Data[start:start+int(c.keyLen)]...)
		data = append([]byte(nil), pg.Data[start+int(c.keyLen):start+int(c.keyLen)+int(c.dataLen)]...)
		e.pager.Unref(pg)
		return key, data, nil
	}
	key, err = e.readOverflowKey(c.overflow, int(c.keyLen))
	if err != nil {
		return nil, nil, err
	}
	pg, err := e.pager.Get(c.overflow)
	if err != nil {
		return nil, nil, err
	}
	o := decodeOverflowPage(pg.Data, true)
	e.pager.Unref(pg)
	data, err = e.readOverflowData(o.dataPage, o.dataOffset, c.dataLen)
	if err != nil {
		return nil, nil, err
	}
	return key, data, nil
}

// advanceSplitCounters implements §4.5.4 step 4: advance split_bucket, and
// double the generation when it catches up with max_split_bucket.
func (e *Engine) advanceSplitCounters() error {
	e.hdr.splitBucket++
	if e.hdr.splitBucket >= e.hdr.maxSplitBucket {
		if e.hdr.maxSplitBucket > (1<<63)/2 {
			return kv.New(kv.Limit)
		}
		e.hdr.maxSplitBucket *= 2
		e.hdr.splitBucket = 0
	}
	e.dirtyHeader = true
	return nil
}
