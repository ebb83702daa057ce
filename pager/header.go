package pager

import (
	"time"

	"unqlite/kv"
)

// DBSignature is the 7-byte signature opening every database file (§6.1).
const DBSignature = "unqlite"

// DBMagic is the 4-byte magic following the signature (§6.1).
const DBMagic uint32 = 0xDB7C2712

// Header is the database header stored at the start of page 1 (the
// headerFixedSize fixed bytes plus the KV name) (§3 "Database header"), big-endian throughout.
type Header struct {
	Created    time.Time
	SectorSize uint32
	PageSize   uint32
	KVName     string
}

// headerFixedSize is the fixed portion before the variable-length KV name.
const headerFixedSize = 7 + 4 + 4 + 4 + 4 + 2

// EncodeHeader serializes h, padding with trailing reserved space up to
// pageSize (the remainder of page 1 belongs to the KV engine's own header,
// §3).
func EncodeHeader(h Header, pageSize int) ([]byte, error) {
	if len(h.KVName) > 0xffff {
		return nil, kv.Wrap(kv.Invalid, nil, "pager: kv engine name too long")
	}
	buf := make([]byte, pageSize)
	copy(buf[0:7], []byte(DBSignature))
	putU32(buf[7:11], DBMagic)
	putU32(buf[11:15], ToDOSTime(h.Created))
	putU32(buf[15:19], h.SectorSize)
	putU32(buf[19:23], h.PageSize)
	putU16(buf[23:25], uint16(len(h.KVName)))
	copy(buf[25:25+len(h.KVName)], []byte(h.KVName))
	return buf, nil
}

// DecodeHeader parses a page-1 buffer into a Header, validating the
// signature and magic (§6.1, CORRUPT on mismatch).
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerFixedSize {
		return Header{}, kv.Wrap(kv.Corrupt, nil, "pager: header buffer too small")
	}
	if string(buf[0:7]) != DBSignature {
		return Header{}, kv.Wrap(kv.Corrupt, nil, "pager: bad database signature")
	}
	if getU32(buf[7:11]) != DBMagic {
		return Header{}, kv.Wrap(kv.Corrupt, nil, "pager: bad database magic")
	}
	created := FromDOSTime(getU32(buf[11:15]))
	sectorSize := getU32(buf[15:19])
	pageSize := getU32(buf[19:23])
	nameLen := getU16(buf[23:25])
	if int(25)+int(nameLen) > len(buf) {
		return Header{}, kv.Wrap(kv.Corrupt, nil, "pager: kv engine name overruns page")
	}
	name := string(buf[25 : 25+int(nameLen)])
	return Header{
		Created:    created,
		SectorSize: sectorSize,
		PageSize:   pageSize,
		KVName:     name,
	}, nil
}

// KVHeaderOffset is where the KV engine's own on-disk header may begin
// within page 1, after the database header's fixed+variable portion.
func KVHeaderOffset(kvNameLen int) int { return headerFixedSize + kvNameLen }
