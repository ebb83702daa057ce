package lhkv

// writeOverflowChain streams key followed by data across a chain of
// overflow pages (§4.5.3 "Overflow chain layout"), recording in the first
// page where the value begins so reads can locate data without rescanning
// the key.
func (e *Engine) writeOverflowChain(key, data []byte) (uint64, error) {
	payload := make([]byte, 0, len(key)+len(data))
	payload = append(payload, key...)
	payload = append(payload, data...)
	pageSize := e.pager.PageSize()

	type segment struct{ start, end, headerSize int }
	var segs []segment
	pos := 0
	for i := 0; pos < len(payload) || i == 0; i++ {
		hs := overflowHeaderSize
		capacity := overflowCapacity(pageSize, false)
		if i == 0 {
			hs = overflowHeaderSize + overflowFirstExtraSize
			capacity = overflowCapacity(pageSize, true)
		}
		end := pos + capacity
		if end > len(payload) {
			end = len(payload)
		}
		segs = append(segs, segment{start: pos, end: end, headerSize: hs})
		pos = end
		if pos >= len(payload) {
			break
		}
	}

	pages := make([]uint64, len(segs))
	for i := range segs {
		pgno, _, err := e.acquirePage()
		if err != nil {
			return 0, err
		}
		pages[i] = pgno
	}

	keyLen := len(key)
	var dataPage uint64
	var dataOffset uint16
	foundData := keyLen == 0 && len(data) == 0
	for i, s := range segs {
		if !foundData && keyLen >= s.start && keyLen <= s.end {
			dataPage = pages[i]
			dataOffset = uint16(s.headerSize + (keyLen - s.start))
			foundData = true
		}
	}
	if !foundData {
		// Degenerate case: value is empty and the key exactly fills every
		// segment; point past the last byte written.
		last := segs[len(segs)-1]
		dataPage = pages[len(pages)-1]
		dataOffset = uint16(last.headerSize + (last.end - last.start))
	}

	for i, s := range segs {
		var next uint64
		if i+1 < len(pages) {
			next = pages[i+1]
		}
		op := overflowPage{next: next, hasDataMarker: i == 0, payload: payload[s.start:s.end]}
		if i == 0 {
			op.dataPage = dataPage
			op.dataOffset = dataOffset
		}
		buf := encodeOverflowPage(op, pageSize)
		pg, err := e.pager.GetWritable(pages[i])
		if err != nil {
			return 0, err
		}
		copy(pg.Data, buf)
		e.pager.Unref(pg)
	}
	return pages[0], nil
}

// readOverflowKey streams the first keyLen bytes of a chain (§4.5.6: large
// keys are compared without materializing the whole value).
func (e *Engine) readOverflowKey(first uint64, keyLen int) ([]byte, error) {
	out := make([]byte, 0, keyLen)
	next := first
	isFirst := true
	seen := map[uint64]bool{}
	for next != 0 && !seen[next] && len(out) < keyLen {
		seen[next] = true
		pg, err := e.pager.Get(next)
		if err != nil {
			return nil, err
		}
		o := decodeOverflowPage(pg.Data, isFirst)
		e.pager.Unref(pg)
		remain := keyLen - len(out)
		if remain > len(o.payload) {
			remain = len(o.payload)
		}
		out = append(out, o.payload[:remain]...)
		next = o.next
		isFirst = false
	}
	return out, nil
}

// readOverflowData reads dataLen bytes starting at the recorded absolute
// position (page, byte offset), continuing across subsequent chain pages.
func (e *Engine) readOverflowData(dataPage uint64, dataOffset uint16, dataLen uint64) ([]byte, error) {
	out := make([]byte, 0, dataLen)
	pgno := dataPage
	offset := int(dataOffset)
	seen := map[uint64]bool{}
	for uint64(len(out)) < dataLen && pgno != 0 && !seen[pgno] {
		seen[pgno] = true
		pg, err := e.pager.Get(pgno)
		if err != nil {
			return nil, err
		}
		buf := pg.Data
		next := getU64(buf[0:8])
		avail := buf[offset:]
		remain := dataLen - uint64(len(out))
		if uint64(len(avail)) > remain {
			avail = avail[:remain]
		}
		out = append(out, avail...)
		e.pager.Unref(pg)
		pgno = next
		offset = overflowHeaderSize
	}
	return out, nil
}
