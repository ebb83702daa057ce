// Package vm exposes the fixed set of entry points the embedded script
// engine calls into the storage core (§6.2). The core treats the script
// engine itself as an opaque external collaborator — this package is the
// only surface it is allowed to see, and it knows nothing about the
// script engine's compiler, lexer, or bytecode.
package vm

import (
	"time"

	"unqlite/collection"
	"unqlite/fastjson"
	"unqlite/kv"
	"unqlite/pager"
)

// Engine is the subset of a storage handle the script VM entry points need:
// a collection store plus pager-level transaction control. store is the
// collection store's underlying KV engine, kept here only so Rollback can
// reset it and rebuild Collections on top (§4.2.2).
type Engine struct {
	Collections *collection.Store
	Pager       *pager.Pager

	store kv.Engine
}

func New(collections *collection.Store, p *pager.Pager, store kv.Engine) *Engine {
	return &Engine{Collections: collections, Pager: p, store: store}
}

func (e *Engine) CollectionExists(name string) (bool, error) {
	return e.Collections.Exists(name)
}

func (e *Engine) CollectionCreate(name string) (bool, error) {
	exists, err := e.Collections.Exists(name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := e.Collections.Create(name, time.Now()); err != nil {
		return false, err
	}
	return true, nil
}

// Put stores value as one record, or, if value is an array, stores each
// member as its own record (§6.2: "value may be a JSON array (stored
// member-wise) or a JSON object/scalar (stored as one record)").
func (e *Engine) Put(name string, value *fastjson.Value) (bool, error) {
	if items, ok := value.Array(); ok {
		for _, item := range items {
			if _, err := e.Collections.Put(name, item); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	if _, err := e.Collections.Put(name, value); err != nil {
		return false, err
	}
	return true, nil
}

// Fetch advances the collection's own cursor one step (§6.2 "fetch(name)
// → value (advance cursor)").
func (e *Engine) Fetch(name string) (*fastjson.Value, bool, error) {
	_, v, ok, err := e.Collections.FetchNext(name)
	return v, ok, err
}

func (e *Engine) FetchByID(name string, id uint64) (*fastjson.Value, error) {
	v, err := e.Collections.FetchByID(name, id)
	if kv.IsNotFound(err) {
		return fastjson.Null(), nil
	}
	return v, err
}

// FetchAll drains every record in the collection, optionally filtering
// each through filter (§6.2 "fetch_all(name [, filter_fn]) → array").
func (e *Engine) FetchAll(name string, filter func(*fastjson.Value) (bool, error)) ([]*fastjson.Value, error) {
	if err := e.Collections.ResetCursor(name); err != nil {
		return nil, err
	}
	var out []*fastjson.Value
	for {
		_, v, ok, err := e.Collections.FetchNext(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if filter != nil {
			keep, err := filter(v)
			if err != nil {
				return nil, err
			}
			if !keep {
				continue
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (e *Engine) LastRecordID(name string) (uint64, bool, error) {
	id, err := e.Collections.LastRecordID(name)
	if kv.IsNotFound(err) {
		return 0, false, nil
	}
	return id, err == nil, err
}

func (e *Engine) CurrentRecordID(name string) (uint64, bool, error) {
	id, err := e.Collections.CurrentRecordID(name)
	return id, err == nil, err
}

func (e *Engine) ResetRecordCursor(name string) (bool, error) {
	if err := e.Collections.ResetCursor(name); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) TotalRecords(name string) (uint64, bool, error) {
	n, err := e.Collections.TotalRecords(name)
	return n, err == nil, err
}

func (e *Engine) CreationDate(name string) (time.Time, bool, error) {
	t, err := e.Collections.CreationDate(name)
	return t, err == nil, err
}

func (e *Engine) DropCollection(name string) (bool, error) {
	if err := e.Collections.DropCollection(name); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) DropRecord(name string, id uint64) (bool, error) {
	if err := e.Collections.DropRecord(name, id); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) SetSchema(name string, schema *fastjson.Value) (bool, error) {
	if err := e.Collections.SetSchema(name, schema); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) GetSchema(name string) (*fastjson.Value, error) {
	schema, err := e.Collections.GetSchema(name)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return fastjson.Null(), nil
	}
	return schema, nil
}

// Begin, Commit, and Rollback are no-ops for :memory: handles, which have
// no pager and therefore no journal to bracket (§4.4: memkv is always
// available even when the pager-backed half of the core is absent).
func (e *Engine) Begin() (bool, error) {
	if e.Pager == nil {
		return true, nil
	}
	if err := e.Pager.Begin(); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) Commit() (bool, error) {
	if e.Pager == nil {
		return true, nil
	}
	if err := e.Pager.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Rollback undoes the current write transaction and drops every derived
// in-memory structure built on top of it: the KV engine's own caches (reset
// via a fresh Open) and the collection layer's per-name cache, which
// otherwise keeps serving pre-rollback headers and cursors (§4.2.2 "Live
// rollback ... also resets the KV engine").
func (e *Engine) Rollback() (bool, error) {
	if e.Pager == nil {
		return true, nil
	}
	if err := e.Pager.Rollback(); err != nil {
		return false, err
	}
	if e.store != nil {
		if err := e.store.Open(int64(e.Pager.DBSize())); err != nil {
			return false, err
		}
		e.Collections = collection.NewStore(e.store)
	}
	return true, nil
}
