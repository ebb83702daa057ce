// Package pager implements the transactional page cache (§4.2): rollback
// journaling, the OPEN/READER/WRITER_* state machine, and the ACID commit
// and recovery protocols every on-disk KV engine is built on top of.
package pager

import (
	"sort"

	"github.com/pkg/errors"

	"unqlite/kv"
	"unqlite/vfs"
)

// State is the pager's transaction state machine (§4.2):
//
//	OPEN -> READER -> WRITER_LOCKED -> WRITER_CACHEMOD -> WRITER_DBMOD -> WRITER_FINISHED
//	                ^_______________________________________________________|
type State int

const (
	StateOpen State = iota
	StateReader
	StateWriterLocked
	StateWriterCacheMod
	StateWriterDBMod
	StateWriterFinished
)

// Options carries configurable thresholds with no semantic reason to be
// fixed constants; defaults below match the values used elsewhere in the
// storage core's invariants.
type Options struct {
	PageSize         int // power of two in [512, 65536], default 4096
	MaxDirtyPages    int // default 128; not read by the pager
	HotDirtyLimit    int // hot-dirty spill threshold; default 127
	CacheGrowFactor  int // default 4; not read (the page cache is a Go map)
	CacheGrowCap     int // default 100000; not read
	DisableJournal   bool
	BusyHandler      vfs.BusyHandler
}

// DefaultOptions returns the thresholds a pager starts with absent an
// explicit override.
func DefaultOptions() Options {
	return Options{
		PageSize:        4096,
		MaxDirtyPages:   128,
		HotDirtyLimit:   127,
		CacheGrowFactor: 4,
		CacheGrowCap:    100000,
	}
}

// Pager is one open database file's transactional page cache.
type Pager struct {
	vfs  vfs.VFS
	path string

	file        vfs.File
	journalFile vfs.File
	journalPath string

	opts       Options
	pageSize   int
	sectorSize int

	state State

	dbSize     uint64 // current page count (logical)
	dbOrigSize uint64 // snapshot at the start of the write transaction

	cache *cache

	bitvec        *Bitvec
	journalNRec   uint32
	journalOffset int64
	journalSeed   uint32
	dirtySpilled  bool // a dirty-commit spill has happened this txn

	commitErr error // sticky commit-phase-1 failure (§7 "Sticky failure")

	header   Header
	readOnly bool
}

// ReadOnly reports whether this pager was opened without write access.
func (p *Pager) ReadOnly() bool { return p.readOnly }

// Open performs the OPEN -> READER transition (§4.2): acquire SHARED,
// perform hot-journal recovery if needed, read the database header.
// readOnly true means the pager never attempts to acquire RESERVED/EXCLUSIVE.
func Open(v vfs.VFS, path string, opts Options, flags vfs.OpenFlags) (*Pager, error) {
	if opts.PageSize == 0 {
		opts = DefaultOptions()
	}
	p := &Pager{
		vfs:         v,
		path:        path,
		journalPath: path + JournalSuffix,
		opts:        opts,
		pageSize:    opts.PageSize,
		sectorSize:  512,
		cache:       newCache(),
		state:       StateOpen,
		readOnly:    flags&vfs.OpenReadWrite == 0,
	}

	f, err := v.Open(path, flags)
	if err != nil {
		return nil, errors.Wrap(err, "pager: open database file")
	}
	p.file = f
	p.sectorSize = f.SectorSize()

	if err := f.Lock(vfs.LockShared); err != nil {
		_ = f.Close()
		return nil, err
	}

	// Hot-journal recovery: a journal file exists and nobody else holds
	// RESERVED means a prior writer crashed mid-transaction (§4.2.2).
	hasJournal, _ := v.Access(p.journalPath, vfs.AccessExists)
	if hasJournal {
		reserved, _ := f.CheckReservedLock()
		if !reserved {
			if err := p.recoverHotJournal(); err != nil {
				_ = f.Unlock(vfs.LockNone)
				_ = f.Close()
				return nil, err
			}
		}
	}

	size, err := f.FileSize()
	if err != nil {
		_ = f.Unlock(vfs.LockNone)
		_ = f.Close()
		return nil, err
	}
	if size == 0 {
		p.dbSize = 0
	} else {
		p.dbSize = uint64(size) / uint64(p.pageSize)
	}

	if p.dbSize > 0 {
		hdrPage, err := p.readPageFromFile(1)
		if err != nil {
			_ = f.Unlock(vfs.LockNone)
			_ = f.Close()
			return nil, err
		}
		hdr, err := DecodeHeader(hdrPage)
		if err != nil {
			_ = f.Unlock(vfs.LockNone)
			_ = f.Close()
			return nil, err
		}
		p.header = hdr
		p.pageSize = int(hdr.PageSize)
	} else {
		p.header = Header{
			Created:    v.CurrentTime(),
			SectorSize: uint32(p.sectorSize),
			PageSize:   uint32(p.pageSize),
		}
	}

	p.state = StateReader
	return p, nil
}

// Header returns the currently loaded database header (read-only).
func (p *Pager) Header() Header { return p.header }

// SetHeader overwrites the in-memory header (used once, right after the
// very first page is created, to install the chosen KV engine's name).
func (p *Pager) SetHeader(h Header) { p.header = h }

// PageSize / State / DBSize expose pager state the KV engines need.
func (p *Pager) PageSize() int   { return p.pageSize }
func (p *Pager) State() State    { return p.state }
func (p *Pager) DBSize() uint64  { return p.dbSize }

func (p *Pager) readPageFromFile(pgno uint64) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	_, err := p.file.ReadAt(buf, int64(pgno-1)*int64(p.pageSize))
	if err != nil {
		return nil, errors.Wrapf(err, "pager: read page %d", pgno)
	}
	return buf, nil
}

// Get fetches a page for reading, creating a cache entry from disk if
// necessary (§3 "Pages are created on first reference").
func (p *Pager) Get(pgno uint64) (*Page, error) {
	if pgno == 0 {
		return nil, kv.New(kv.Invalid)
	}
	if pg := p.cache.get(pgno); pg != nil {
		p.cache.ref(pg)
		return pg, nil
	}
	data, err := p.readPageFromFile(pgno)
	if err != nil {
		return nil, err
	}
	pg := &Page{No: pgno, Data: data}
	p.cache.put(pg)
	p.cache.ref(pg)
	return pg, nil
}

// Unref releases a reference obtained from Get/Allocate/GetWritable.
func (p *Pager) Unref(pg *Page) { p.cache.unref(pg) }

// beginWrite performs READER -> WRITER_LOCKED (§4.2): acquire RESERVED,
// allocate the transaction bitvec, snapshot dbOrigSize.
func (p *Pager) beginWrite() error {
	if p.readOnly {
		return kv.New(kv.ReadOnly)
	}
	if p.commitErr != nil {
		return p.stickyRollbackRequired()
	}
	if p.state != StateReader {
		return nil
	}
	if err := p.withBusyRetry(func() error { return p.file.Lock(vfs.LockReserved) }); err != nil {
		return err
	}
	p.dbOrigSize = p.dbSize
	p.bitvec = NewBitvec(p.dbOrigSize)
	p.state = StateWriterLocked
	return nil
}

// Begin starts a write transaction (public entry point).
func (p *Pager) Begin() error { return p.beginWrite() }

// openJournal performs WRITER_LOCKED -> WRITER_CACHEMOD (§4.2): unlink any
// stale same-name journal, write the padded header, seed the checksum.
func (p *Pager) openJournal() error {
	if p.state != StateWriterLocked {
		return nil
	}
	_ = p.vfs.Delete(p.journalPath, false)
	jf, err := p.vfs.Open(p.journalPath, vfs.OpenReadWrite|vfs.OpenCreate)
	if err != nil {
		return errors.Wrap(err, "pager: open journal")
	}
	p.journalFile = jf
	p.journalSeed = uint32(p.vfs.CurrentTime().UnixNano())
	p.journalNRec = 0

	hdr := encodeJournalHeader(JournalHeader{
		NRec:          0,
		ChecksumSeed:  p.journalSeed,
		OrigPageCount: p.dbOrigSize,
		SectorSize:    uint32(p.sectorSize),
		PageSize:      uint32(p.pageSize),
	}, p.sectorSize)
	if _, err := jf.WriteAt(hdr, 0); err != nil {
		return errors.Wrap(err, "pager: write journal header")
	}
	p.journalOffset = int64(p.sectorSize)
	p.state = StateWriterCacheMod
	return nil
}

// GetWritable fetches a page and runs the page-write protocol (§4.2.1)
// before returning it: ensure the journal is open, journal the page's
// original content on first write this transaction, and mark it dirty.
func (p *Pager) GetWritable(pgno uint64) (*Page, error) {
	if err := p.pageWritePrologue(); err != nil {
		return nil, err
	}
	pg, err := p.Get(pgno)
	if err != nil {
		return nil, err
	}
	if err := p.journalPageIfNeeded(pg); err != nil {
		p.Unref(pg)
		return nil, err
	}
	p.cache.markDirty(pg)
	return pg, nil
}

// Allocate extends the database by one page and returns it writable. New
// pages are never journaled (they lie beyond dbOrigSize, §3 invariant).
func (p *Pager) Allocate() (*Page, error) {
	if err := p.pageWritePrologue(); err != nil {
		return nil, err
	}
	p.dbSize++
	pgno := p.dbSize
	pg := newPage(pgno, p.pageSize)
	p.cache.put(pg)
	p.cache.ref(pg)
	p.cache.markDirty(pg)
	return pg, nil
}

func (p *Pager) pageWritePrologue() error {
	if p.state == StateReader {
		if err := p.beginWrite(); err != nil {
			return err
		}
	}
	if p.state == StateWriterLocked {
		if err := p.openJournal(); err != nil {
			return err
		}
	}
	if p.cache.nHot > p.opts.HotDirtyLimit {
		if err := p.dirtyCommitSpill(); err != nil {
			return err
		}
	}
	return nil
}

// journalPageIfNeeded implements §4.2.1 step 3: journal the page's
// pre-image exactly once per transaction, only if it already existed when
// the transaction began.
func (p *Pager) journalPageIfNeeded(pg *Page) error {
	if pg.Dirty {
		return nil // already journaled (or newly allocated, never journaled)
	}
	if pg.No >= p.dbOrigSize+1 {
		return nil // beyond dbOrigSize: never journaled (§3 invariant)
	}
	if p.bitvec.Get(pg.No) {
		return nil
	}
	if p.journalNRec == ^uint32(0) {
		return kv.New(kv.Limit)
	}
	if err := writeJournalRecord(p.journalFile, p.journalOffset, pg.No, pg.Data, p.journalSeed); err != nil {
		return errors.Wrap(err, "pager: append journal record")
	}
	p.journalOffset += journalRecordSize(p.pageSize)
	p.journalNRec++
	p.bitvec.Set(pg.No)
	pg.InJournal = true
	return nil
}

// dirtyCommitSpill performs a "dirty commit" (§4.2.1 step 2, §9 Design
// Notes "Hot-dirty spill"): flush hot-dirty pages to the DB file without
// finalizing the transaction, to bound memory under write pressure. The
// journal's pre-images remain authoritative for any later rollback.
func (p *Pager) dirtyCommitSpill() error {
	hot := p.cache.hotPages()
	if len(hot) == 0 {
		return nil
	}
	if err := p.journalFile.Sync(vfs.SyncNormal); err != nil {
		return errors.Wrap(err, "pager: sync journal before spill")
	}
	for _, pg := range hot {
		if err := p.writePageToFile(pg); err != nil {
			return err
		}
		p.cache.removeHot(pg)
	}
	p.dirtySpilled = true
	if p.state == StateWriterCacheMod {
		p.state = StateWriterDBMod
	}
	return nil
}

func (p *Pager) writePageToFile(pg *Page) error {
	_, err := p.file.WriteAt(pg.Data, int64(pg.No-1)*int64(p.pageSize))
	if err != nil {
		return errors.Wrapf(err, "pager: write page %d", pg.No)
	}
	return nil
}

// Commit implements the two-phase commit protocol (§4.2.3).
func (p *Pager) Commit() error {
	if p.state == StateReader || p.state == StateOpen {
		return nil // nothing to commit
	}
	if err := p.commitPhase1(); err != nil {
		p.commitErr = err
		return err
	}
	return p.commitPhase2()
}

func (p *Pager) commitPhase1() error {
	// Upgrade to EXCLUSIVE first, then finalize and sync the journal.
	if err := p.withBusyRetry(func() error { return p.file.Lock(vfs.LockExclusive) }); err != nil {
		return err
	}

	// finalize the journal header with the real record count.
	if p.journalFile != nil {
		hdr := encodeJournalHeader(JournalHeader{
			NRec:          p.journalNRec,
			ChecksumSeed:  p.journalSeed,
			OrigPageCount: p.dbOrigSize,
			SectorSize:    uint32(p.sectorSize),
			PageSize:      uint32(p.pageSize),
		}, p.sectorSize)
		if _, err := p.journalFile.WriteAt(hdr, 0); err != nil {
			return errors.Wrap(err, "pager: finalize journal header")
		}
		if err := p.journalFile.Sync(vfs.SyncNormal); err != nil {
			return errors.Wrap(err, "pager: sync journal")
		}
	}

	if p.dirtySpilled {
		if err := p.file.Sync(vfs.SyncNormal); err != nil {
			return errors.Wrap(err, "pager: sync db after spill")
		}
	}

	for _, pg := range p.cache.dirtyPages() {
		if err := p.writePageToFile(pg); err != nil {
			return err
		}
	}
	if p.dbSize != p.dbOrigSize {
		if err := p.file.Truncate(int64(p.dbSize) * int64(p.pageSize)); err != nil {
			return errors.Wrap(err, "pager: truncate db file")
		}
	}
	if err := p.file.Sync(vfs.SyncFull); err != nil {
		return errors.Wrap(err, "pager: full sync db")
	}
	p.state = StateWriterFinished
	return nil
}

func (p *Pager) commitPhase2() error {
	for _, pg := range p.cache.dirtyPages() {
		p.cache.removeDirty(pg)
		pg.InJournal = false
	}
	for _, pg := range p.cache.hotPages() {
		p.cache.removeHot(pg)
	}
	if p.journalFile != nil {
		_ = p.journalFile.Close()
		p.journalFile = nil
	}
	if err := p.vfs.Delete(p.journalPath, false); err != nil {
		return errors.Wrap(err, "pager: delete journal")
	}
	p.bitvec = nil
	p.dirtySpilled = false
	p.journalNRec = 0
	p.commitErr = nil
	if err := p.file.Unlock(vfs.LockShared); err != nil {
		return err
	}
	p.state = StateReader
	return nil
}

// Rollback discards the current write transaction: replays the journal
// into the live page cache and database file, then downgrades to SHARED
// (§4.2.2 "Live rollback"). Callers must separately reset any KV engine
// in-memory derived structures (the pager itself only owns pages).
func (p *Pager) Rollback() error {
	if p.state == StateReader || p.state == StateOpen {
		return nil
	}
	if p.journalFile != nil {
		if err := p.replayJournalFile(p.journalFile, p.journalNRec, p.journalSeed, true); err != nil {
			return err
		}
		_ = p.journalFile.Close()
		p.journalFile = nil
	}
	_ = p.vfs.Delete(p.journalPath, false)

	for _, pg := range p.cache.dirtyPages() {
		p.cache.removeDirty(pg)
	}
	for _, pg := range p.cache.hotPages() {
		p.cache.removeHot(pg)
	}
	p.dbSize = p.dbOrigSize
	p.bitvec = nil
	p.dirtySpilled = false
	p.journalNRec = 0
	p.commitErr = nil

	if err := p.file.Unlock(vfs.LockShared); err != nil {
		return err
	}
	p.state = StateReader
	return nil
}

func (p *Pager) stickyRollbackRequired() error {
	err := p.commitErr
	p.commitErr = nil
	_ = p.Rollback()
	return errors.Wrap(err, "pager: forced rollback after sticky commit error")
}

// recoverHotJournal implements §4.2.2 hot-journal recovery, run once on
// OPEN -> READER when a journal file exists and nobody holds RESERVED.
func (p *Pager) recoverHotJournal() error {
	if err := p.file.Lock(vfs.LockExclusive); err != nil {
		return errors.Wrap(err, "pager: exclusive lock for hot journal recovery")
	}
	defer p.file.Unlock(vfs.LockShared)

	jf, err := p.vfs.Open(p.journalPath, vfs.OpenReadWrite)
	if err != nil {
		// can't open it: treat as no hot journal.
		_ = p.vfs.Delete(p.journalPath, false)
		return nil
	}
	defer jf.Close()

	hdrBuf := make([]byte, p.sectorSize)
	if _, err := jf.ReadAt(hdrBuf, 0); err != nil {
		_ = p.vfs.Delete(p.journalPath, false)
		return nil
	}
	jh, err := decodeJournalHeader(hdrBuf)
	if err != nil || jh.PageSize == 0 || jh.SectorSize == 0 {
		_ = p.vfs.Delete(p.journalPath, false)
		return nil
	}

	if err := p.file.Truncate(int64(jh.OrigPageCount) * int64(jh.PageSize)); err != nil {
		return errors.Wrap(err, "pager: truncate db for recovery")
	}
	curDBSize := jh.OrigPageCount

	if err := p.replayJournalFile(jf, jh.NRec, jh.ChecksumSeed, false); err != nil {
		return err
	}

	if err := p.file.Sync(vfs.SyncFull); err != nil {
		return errors.Wrap(err, "pager: sync db after recovery")
	}
	_ = p.vfs.Delete(p.journalPath, false)
	p.dbSize = curDBSize
	p.cache = newCache()
	return nil
}

// replayJournalFile applies each of nRec records to both the live db file
// and any matching cached page, skipping checksum-failed records (§4.2.2
// step 4) and ignoring records beyond the current db size.
func (p *Pager) replayJournalFile(jf vfs.File, nRec uint32, seed uint32, liveCache bool) error {
	offset := int64(p.sectorSize)
	dbSize := p.dbSize
	if !liveCache {
		// during OPEN-time recovery p.dbSize isn't authoritative yet; the
		// caller already truncated the file, so read back the live size.
		sz, err := p.file.FileSize()
		if err == nil {
			dbSize = uint64(sz) / uint64(p.pageSize)
		}
	}
	for i := uint32(0); i < nRec; i++ {
		pgno, data, ok, err := readJournalRecord(jf, offset, p.pageSize, seed)
		offset += journalRecordSize(p.pageSize)
		if err != nil {
			return err
		}
		if !ok {
			continue // checksum mismatch: ignored, not fatal (§4.2.2 step 4)
		}
		if pgno == 0 || pgno > dbSize {
			continue
		}
		if _, err := p.file.WriteAt(data, int64(pgno-1)*int64(p.pageSize)); err != nil {
			return errors.Wrapf(err, "pager: restore page %d", pgno)
		}
		if liveCache {
			if pg := p.cache.get(pgno); pg != nil {
				copy(pg.Data, data)
			}
		}
	}
	return nil
}

// withBusyRetry retries lock acquisition through the configured busy
// handler (§4.2.5) until it succeeds or the handler gives up.
func (p *Pager) withBusyRetry(acquire func() error) error {
	attempt := 0
	for {
		err := acquire()
		if err == nil {
			return nil
		}
		if p.opts.BusyHandler == nil || !p.opts.BusyHandler(attempt) {
			return kv.Wrap(kv.Busy, err, "pager: lock busy")
		}
		attempt++
	}
}

// Close releases the pager's file handles. Any open write transaction is
// rolled back first.
func (p *Pager) Close() error {
	if p.state != StateReader && p.state != StateOpen {
		_ = p.Rollback()
	}
	if p.journalFile != nil {
		_ = p.journalFile.Close()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

// SortedPageNumbers is a small test/debug helper exposing cache contents in
// deterministic order.
func (p *Pager) SortedPageNumbers() []uint64 {
	nums := make([]uint64, 0, len(p.cache.pages))
	for n := range p.cache.pages {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}
