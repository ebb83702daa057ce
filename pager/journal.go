package pager

import (
	"unqlite/kv"
	"unqlite/vfs"
)

// JournalMagic is the 8-byte magic opening every rollback journal (§6.1).
var JournalMagic = [8]byte{0xA6, 0xE8, 0xCD, 0x2B, 0x1C, 0x92, 0xDB, 0x9F}

// JournalSuffix is appended to the database path to name its journal file
// (§6.1: path = "<db path>" with "-journal" appended).
const JournalSuffix = "-journal"

const journalHeaderSize = 8 + 4 + 4 + 8 + 4 + 4

// JournalHeader is the one-sector header of a rollback journal (§3).
type JournalHeader struct {
	NRec          uint32
	ChecksumSeed  uint32
	OrigPageCount uint64
	SectorSize    uint32
	PageSize      uint32
}

func encodeJournalHeader(h JournalHeader, sectorSize int) []byte {
	buf := make([]byte, sectorSize)
	copy(buf[0:8], JournalMagic[:])
	putU32(buf[8:12], h.NRec)
	putU32(buf[12:16], h.ChecksumSeed)
	putU64(buf[16:24], h.OrigPageCount)
	putU32(buf[24:28], h.SectorSize)
	putU32(buf[28:32], h.PageSize)
	return buf
}

func decodeJournalHeader(buf []byte) (JournalHeader, error) {
	if len(buf) < journalHeaderSize {
		return JournalHeader{}, kv.Wrap(kv.Corrupt, nil, "pager: journal header truncated")
	}
	if string(buf[0:8]) != string(JournalMagic[:]) {
		return JournalHeader{}, kv.Wrap(kv.Corrupt, nil, "pager: bad journal magic")
	}
	return JournalHeader{
		NRec:          getU32(buf[8:12]),
		ChecksumSeed:  getU32(buf[12:16]),
		OrigPageCount: getU64(buf[16:24]),
		SectorSize:    getU32(buf[24:28]),
		PageSize:      getU32(buf[28:32]),
	}, nil
}

// journalChecksum implements the sparse tail-sampling checksum from §3:
// "seed + sum(byte[pageSize − 200k]) for k=1.." — cheap enough to compute
// per record, and effective at catching a journal record truncated
// mid-write by a power loss, because the sampled offsets walk backwards
// from the end of the page.
func journalChecksum(seed uint32, data []byte) uint32 {
	cksum := seed
	n := len(data)
	for k := 1; n-200*k >= 0; k++ {
		cksum += uint32(data[n-200*k])
	}
	return cksum
}

// journalRecordSize returns the on-disk size of one page record.
func journalRecordSize(pageSize int) int64 {
	return 8 + int64(pageSize) + 4
}

// writeJournalRecord appends one <pgno, original bytes, checksum> record at
// the given byte offset (§3 "Rollback journal").
func writeJournalRecord(f vfs.File, offset int64, pgno uint64, data []byte, seed uint32) error {
	rec := make([]byte, 8+len(data)+4)
	putU64(rec[0:8], pgno)
	copy(rec[8:8+len(data)], data)
	putU32(rec[8+len(data):], journalChecksum(seed, data))
	_, err := f.WriteAt(rec, offset)
	return err
}

// readJournalRecord reads one record at the given offset; ok is false (and
// no error) when the checksum fails, matching §4.2.2 step 4: a bad-checksum
// record is ignored, not fatal.
func readJournalRecord(f vfs.File, offset int64, pageSize int, seed uint32) (pgno uint64, data []byte, ok bool, err error) {
	buf := make([]byte, 8+pageSize+4)
	n, rerr := f.ReadAt(buf, offset)
	if rerr != nil || n < len(buf) {
		return 0, nil, false, nil
	}
	pgno = getU64(buf[0:8])
	data = append([]byte(nil), buf[8:8+pageSize]...)
	wantCksum := getU32(buf[8+pageSize:])
	gotCksum := journalChecksum(seed, data)
	if wantCksum != gotCksum {
		return pgno, nil, false, nil
	}
	return pgno, data, true, nil
}
