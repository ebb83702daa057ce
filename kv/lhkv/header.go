package lhkv

import (
	"unqlite/kv"
)

// engineMagic identifies the linear-hash header within the KV engine's
// portion of page 1 (§3 "Linear-hash header").
const engineMagic uint32 = 0x48554e51

// mapRecordSize is the on-disk size of one (logicalBucket, realPage) pair.
const mapRecordSize = 8 + 8

// engineHeaderFixedSize is everything preceding the variable-length bucket
// map record list.
const engineHeaderFixedSize = 4 + 4 + 8 + 8 + 8 + 8 + 4

type mapRecord struct {
	logicalBucket uint64
	realPage      uint64
}

// engineHeader mirrors the on-disk linear-hash header (§3): the free-list
// head, split state, and the head of the bucket-map page chain, plus
// whatever map records fit inline in page 1 itself.
type engineHeader struct {
	hashFingerprint uint32
	freeListHead    uint64
	splitBucket     uint64
	maxSplitBucket  uint64
	nextMapPage     uint64
	records         []mapRecord
}

func encodeEngineHeader(h engineHeader, avail int) []byte {
	buf := make([]byte, engineHeaderFixedSize)
	putU32(buf[0:4], engineMagic)
	putU32(buf[4:8], h.hashFingerprint)
	putU64(buf[8:16], h.freeListHead)
	putU64(buf[16:24], h.splitBucket)
	putU64(buf[24:32], h.maxSplitBucket)
	putU64(buf[32:40], h.nextMapPage)

	maxRecs := (avail - engineHeaderFixedSize) / mapRecordSize
	if maxRecs < 0 {
		maxRecs = 0
	}
	n := len(h.records)
	if n > maxRecs {
		n = maxRecs
	}
	putU32(buf[40:44], uint32(n))
	recBuf := make([]byte, n*mapRecordSize)
	for i := 0; i < n; i++ {
		off := i * mapRecordSize
		putU64(recBuf[off:off+8], h.records[i].logicalBucket)
		putU64(recBuf[off+8:off+16], h.records[i].realPage)
	}
	return append(buf, recBuf...)
}

func decodeEngineHeader(buf []byte) (engineHeader, int, error) {
	if len(buf) < engineHeaderFixedSize {
		return engineHeader{}, 0, kv.Wrap(kv.Corrupt, nil, "lhkv: header buffer too small")
	}
	if getU32(buf[0:4]) != engineMagic {
		return engineHeader{}, 0, kv.Wrap(kv.Corrupt, nil, "lhkv: bad engine magic")
	}
	h := engineHeader{
		hashFingerprint: getU32(buf[4:8]),
		freeListHead:    getU64(buf[8:16]),
		splitBucket:     getU64(buf[16:24]),
		maxSplitBucket:  getU64(buf[24:32]),
		nextMapPage:     getU64(buf[32:40]),
	}
	count := int(getU32(buf[40:44]))
	offset := engineHeaderFixedSize
	for i := 0; i < count; i++ {
		if offset+mapRecordSize > len(buf) {
			break
		}
		h.records = append(h.records, mapRecord{
			logicalBucket: getU64(buf[offset : offset+8]),
			realPage:      getU64(buf[offset+8 : offset+16]),
		})
		offset += mapRecordSize
	}
	return h, offset, nil
}

// mapPageHeaderSize precedes the record list on a continuation map page:
// 8-byte next map page, 4-byte record count.
const mapPageHeaderSize = 8 + 4

func encodeMapPage(next uint64, records []mapRecord, pageSize int) []byte {
	buf := make([]byte, pageSize)
	putU64(buf[0:8], next)
	maxRecs := (pageSize - mapPageHeaderSize) / mapRecordSize
	n := len(records)
	if n > maxRecs {
		n = maxRecs
	}
	putU32(buf[8:12], uint32(n))
	for i := 0; i < n; i++ {
		off := mapPageHeaderSize + i*mapRecordSize
		putU64(buf[off:off+8], records[i].logicalBucket)
		putU64(buf[off+8:off+16], records[i].realPage)
	}
	return buf
}

func decodeMapPage(buf []byte) (next uint64, records []mapRecord) {
	next = getU64(buf[0:8])
	count := int(getU32(buf[8:12]))
	offset := mapPageHeaderSize
	for i := 0; i < count; i++ {
		if offset+mapRecordSize > len(buf) {
			break
		}
		records = append(records, mapRecord{
			logicalBucket: getU64(buf[offset : offset+8]),
			realPage:      getU64(buf[offset+8 : offset+16]),
		})
		offset += mapRecordSize
	}
	return next, records
}

func mapPageCapacity(pageSize int) int {
	return (pageSize - mapPageHeaderSize) / mapRecordSize
}
