package pager

import "encoding/binary"

// Explicit, inlineable big-endian pack/unpack helpers (§9 Design Notes:
// "Macro-heavy big/little-endian packing" -> explicit helpers). All on-disk
// multi-byte integers in the database and journal files are big-endian (§6.1).

func putU16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func getU16(b []byte) uint16    { return binary.BigEndian.Uint16(b) }

func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func getU32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }

func putU64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func getU64(b []byte) uint64    { return binary.BigEndian.Uint64(b) }
