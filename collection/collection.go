// Package collection implements the document layer (§4.6): auto-ID'd
// JSON-like records stored over the KV interface, keyed
// "<collection>_<decimal id>", with an optional schema and a per-collection
// record cursor.
package collection

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"unqlite/fastjson"
	"unqlite/kv"
	"unqlite/pager"
)

const headerMagic uint16 = 0x9a4c

// Header is the collection header stored as the KV value under the bare
// collection name (§3 "Collection header").
type Header struct {
	LastID  uint64
	Total   uint64
	Created time.Time
	Schema  *fastjson.Value // nil if none set
}

func encodeHeader(h Header) ([]byte, error) {
	buf := make([]byte, 2+8+8+4)
	putU16(buf[0:2], headerMagic)
	putU64(buf[2:10], h.LastID)
	putU64(buf[10:18], h.Total)
	putU32(buf[18:22], pager.ToDOSTime(h.Created))
	if h.Schema == nil {
		return buf, nil
	}
	schemaBytes, err := fastjson.Encode(h.Schema)
	if err != nil {
		return nil, err
	}
	return append(buf, schemaBytes...), nil
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < 22 {
		return Header{}, kv.Wrap(kv.Corrupt, nil, "collection: header buffer too small")
	}
	if getU16(buf[0:2]) != headerMagic {
		return Header{}, kv.Wrap(kv.Corrupt, nil, "collection: bad header magic")
	}
	h := Header{
		LastID:  getU64(buf[2:10]),
		Total:   getU64(buf[10:18]),
		Created: pager.FromDOSTime(getU32(buf[18:22])),
	}
	if len(buf) > 22 {
		schema, err := fastjson.Decode(buf[22:])
		if err != nil {
			return Header{}, err
		}
		h.Schema = schema
	}
	return h, nil
}

func putU16(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }
func getU16(b []byte) uint16    { return uint16(b[0])<<8 | uint16(b[1]) }
func putU32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}
func getU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> uint(56-8*i))
	}
}
func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func recordKey(name string, id uint64) string {
	return name + "_" + strconv.FormatUint(id, 10)
}

// recordCache is the small by-id cache kept per opened collection
// (§4.6 "each cached collection also keeps a small by-id record cache").
type recordCache struct {
	entries map[uint64]*fastjson.Value
	order   []uint64
	cap     int
}

func newRecordCache(cap int) *recordCache {
	return &recordCache{entries: make(map[uint64]*fastjson.Value), cap: cap}
}

func (c *recordCache) get(id uint64) (*fastjson.Value, bool) {
	v, ok := c.entries[id]
	return v, ok
}

func (c *recordCache) put(id uint64, v *fastjson.Value) {
	if _, exists := c.entries[id]; !exists {
		if len(c.order) >= c.cap {
			evict := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, evict)
		}
		c.order = append(c.order, id)
	}
	c.entries[id] = v
}

func (c *recordCache) drop(id uint64) {
	delete(c.entries, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Collection is one opened, cached collection instance (§4.6, last
// paragraph: "collections are cached in a by-name hash table").
type Collection struct {
	name   string
	engine kv.Engine
	header Header
	cache  *recordCache
	cursor uint64 // fetch_next position, §4.6 "reset cur to 0 on EOF"
}

const defaultRecordCacheSize = 64

// Store is the by-name collection cache for a single VM instance
// (§4.6 "within a single VM instance, collections are cached...").
type Store struct {
	engine kv.Engine
	byName map[string]*Collection
}

func NewStore(engine kv.Engine) *Store {
	return &Store{engine: engine, byName: make(map[string]*Collection)}
}

// Exists reports whether collection name has a header in the KV store.
func (s *Store) Exists(name string) (bool, error) {
	c := s.engine.NewCursor()
	defer c.Release()
	err := c.Seek([]byte(name), kv.SeekExact)
	if kv.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create installs a fresh, empty collection header if one doesn't already
// exist.
func (s *Store) Create(name string, now time.Time) error {
	if err := invalidCollectionName(name); err != nil {
		return err
	}
	exists, err := s.Exists(name)
	if err != nil {
		return err
	}
	if exists {
		return kv.New(kv.Locked)
	}
	h := Header{Created: now}
	buf, err := encodeHeader(h)
	if err != nil {
		return err
	}
	if err := s.engine.Replace([]byte(name), buf); err != nil {
		return err
	}
	s.byName[name] = &Collection{name: name, engine: s.engine, header: h, cache: newRecordCache(defaultRecordCacheSize)}
	return nil
}

// open loads (or returns the cached) collection by name.
func (s *Store) open(name string) (*Collection, error) {
	if c, ok := s.byName[name]; ok {
		return c, nil
	}
	var buf []byte
	cur := s.engine.NewCursor()
	defer cur.Release()
	if err := cur.Seek([]byte(name), kv.SeekExact); err != nil {
		return nil, err
	}
	if err := cur.Data(kv.CollectBytes(&buf)); err != nil {
		return nil, err
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	c := &Collection{name: name, engine: s.engine, header: h, cache: newRecordCache(defaultRecordCacheSize)}
	s.byName[name] = c
	return c, nil
}

func (c *Collection) rewriteHeader() error {
	buf, err := encodeHeader(c.header)
	if err != nil {
		return err
	}
	return c.engine.Replace([]byte(c.name), buf)
}

// Put implements §4.6 "On put(C, value)": assigns __id, encodes, stores,
// and advances the header counters.
func (s *Store) Put(name string, value *fastjson.Value) (uint64, error) {
	c, err := s.open(name)
	if err != nil {
		return 0, err
	}
	id := c.header.LastID
	toStore := value
	if value.IsObject() {
		toStore = value.WithField("__id", fastjson.Int(int64(id)))
	}
	encoded, err := fastjson.Encode(toStore)
	if err != nil {
		return 0, err
	}
	if err := c.engine.Replace([]byte(recordKey(name, id)), encoded); err != nil {
		return 0, err
	}
	c.header.LastID++
	c.header.Total++
	if err := c.rewriteHeader(); err != nil {
		return 0, err
	}
	c.cache.put(id, toStore)
	return id, nil
}

// FetchByID implements §4.6 "On fetch_by_id(C, i)".
func (s *Store) FetchByID(name string, id uint64) (*fastjson.Value, error) {
	c, err := s.open(name)
	if err != nil {
		return nil, err
	}
	if v, ok := c.cache.get(id); ok {
		return v, nil
	}
	cur := c.engine.NewCursor()
	defer cur.Release()
	if err := cur.Seek([]byte(recordKey(name, id)), kv.SeekExact); err != nil {
		return nil, err
	}
	var buf []byte
	if err := cur.Data(kv.CollectBytes(&buf)); err != nil {
		return nil, err
	}
	v, err := fastjson.Decode(buf)
	if err != nil {
		return nil, err
	}
	c.cache.put(id, v)
	return v, nil
}

// FetchNext implements §4.6 "On fetch_next(C)": advances a collection-owned
// cursor across ids, skipping ones that no longer exist, wrapping to 0 on
// EOF.
func (s *Store) FetchNext(name string) (uint64, *fastjson.Value, bool, error) {
	c, err := s.open(name)
	if err != nil {
		return 0, nil, false, err
	}
	for c.cursor < c.header.LastID {
		id := c.cursor
		c.cursor++
		v, err := s.FetchByID(name, id)
		if kv.IsNotFound(err) {
			continue
		}
		if err != nil {
			return 0, nil, false, err
		}
		return id, v, true, nil
	}
	c.cursor = 0
	return 0, nil, false, nil
}

// ResetCursor rewinds the fetch_next position to 0.
func (s *Store) ResetCursor(name string) error {
	c, err := s.open(name)
	if err != nil {
		return err
	}
	c.cursor = 0
	return nil
}

// DropRecord implements §4.6 "On drop_record(C, i)".
func (s *Store) DropRecord(name string, id uint64) error {
	c, err := s.open(name)
	if err != nil {
		return err
	}
	cur := c.engine.NewCursor()
	defer cur.Release()
	if err := cur.Seek([]byte(recordKey(name, id)), kv.SeekExact); err != nil {
		return err
	}
	if err := c.engine.Delete(cur); err != nil {
		return err
	}
	c.header.Total--
	c.cache.drop(id)
	return c.rewriteHeader()
}

// DropCollection implements §4.6 "On drop_collection(C)": deletes the
// header then every record id in [0, last_id) that still exists.
func (s *Store) DropCollection(name string) error {
	c, err := s.open(name)
	if err != nil {
		return err
	}
	cur := c.engine.NewCursor()
	if err := cur.Seek([]byte(name), kv.SeekExact); err == nil {
		_ = c.engine.Delete(cur)
	}
	cur.Release()

	for id := uint64(0); id < c.header.LastID; id++ {
		rc := c.engine.NewCursor()
		if err := rc.Seek([]byte(recordKey(name, id)), kv.SeekExact); err == nil {
			_ = c.engine.Delete(rc)
		}
		rc.Release()
	}
	delete(s.byName, name)
	return nil
}

// SetSchema stores a trailing fast-JSON schema value in the header
// (§3 "Collection header": "optional trailing fast-JSON-encoded schema
// value").
func (s *Store) SetSchema(name string, schema *fastjson.Value) error {
	c, err := s.open(name)
	if err != nil {
		return err
	}
	c.header.Schema = schema
	return c.rewriteHeader()
}

// GetSchema returns the collection's schema value, or nil if none is set.
func (s *Store) GetSchema(name string) (*fastjson.Value, error) {
	c, err := s.open(name)
	if err != nil {
		return nil, err
	}
	return c.header.Schema, nil
}

// LastRecordID, TotalRecords, and CreationDate expose header fields for the
// script-VM entry points (§6.2).
func (s *Store) LastRecordID(name string) (uint64, error) {
	c, err := s.open(name)
	if err != nil {
		return 0, err
	}
	if c.header.LastID == 0 {
		return 0, kv.New(kv.NotFound)
	}
	return c.header.LastID - 1, nil
}

func (s *Store) TotalRecords(name string) (uint64, error) {
	c, err := s.open(name)
	if err != nil {
		return 0, err
	}
	return c.header.Total, nil
}

func (s *Store) CreationDate(name string) (time.Time, error) {
	c, err := s.open(name)
	if err != nil {
		return time.Time{}, err
	}
	return c.header.Created, nil
}

// CurrentRecordID returns the id fetch_next would return next, for
// introspection (§6.2 "current_record_id").
func (s *Store) CurrentRecordID(name string) (uint64, error) {
	c, err := s.open(name)
	if err != nil {
		return 0, err
	}
	return c.cursor, nil
}

func invalidCollectionName(name string) error {
	if name == "" || strings.ContainsAny(name, "_") {
		return kv.Wrap(kv.Invalid, nil, fmt.Sprintf("collection: invalid name %q", name))
	}
	return nil
}
