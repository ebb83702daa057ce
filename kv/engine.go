package kv

// SeekMode selects the comparison used by Cursor.Seek (§4.3).
type SeekMode int

const (
	SeekExact SeekMode = iota
	SeekLE
	SeekGE
)

// HashFunc / CmpFunc let a host install a custom hash or comparison function
// before any record exists in the store (§6.3: "only before any record
// exists in the store").
type HashFunc func(key []byte) uint32
type CmpFunc func(a, b []byte) int

// ConfigCommand is the sum type replacing the original variadic
// `config(op, ...)` surface (§9 Design Notes "Variadic config surface").
// Exactly one of the typed fields is meaningful, selected by Op.
type ConfigOp int

const (
	ConfigHashFunction ConfigOp = iota
	ConfigCmpFunction
)

type ConfigCommand struct {
	Op      ConfigOp
	Hash    HashFunc
	Compare CmpFunc
}

// EngineOptions carries per-engine thresholds with no semantic reason to
// be fixed constants: cache growth factor, cache cap, and similar knobs.
type EngineOptions struct {
	// PageSize is supplied by the pager at Init time; present here so
	// standalone engines (memkv) can share the same options shape.
	PageSize int
	// HashBucketCap bounds in-memory hash-table growth (doubling-until-cap).
	HashBucketCap int
	// HashGrowFactor triggers a doubling rehash when load exceeds it.
	HashGrowFactor int
}

// DefaultEngineOptions returns the thresholds an engine starts with absent
// an explicit override.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		PageSize:       4096,
		HashBucketCap:  100000,
		HashGrowFactor: 4,
	}
}

// Engine is the uniform contract every KV store (in-memory or on-disk linear
// hash) implements (§4.3).
type Engine interface {
	Name() string
	Init(opts EngineOptions) error
	Release() error
	Open(dbSize int64) error
	Config(cmd ConfigCommand) error

	// Replace inserts key/data or overwrites the existing value for key.
	Replace(key, data []byte) error
	// Append concatenates data onto the existing value for key, or inserts it
	// as a new record if key is absent.
	Append(key, data []byte) error
	Delete(c Cursor) error

	NewCursor() Cursor
}

// Cursor is the per-engine iteration/lookup handle (§4.3, §4.5.5).
type Cursor interface {
	Release() error
	Seek(key []byte, mode SeekMode) error
	First() error
	Last() error
	Valid() bool
	Next() error
	Prev() error
	Reset()

	KeyLen() (int, error)
	Key(c Consumer) error
	DataLen() (int, error)
	Data(c Consumer) error
}

// KeyBytes/DataBytes are convenience wrappers around the consumer contract
// for callers that are fine materializing the whole value (most tests and
// the collection layer, whose records are bounded by fastjson's own limits).
func KeyBytes(c Cursor) ([]byte, error) {
	var out []byte
	if err := c.Key(CollectBytes(&out)); err != nil {
		return nil, err
	}
	return out, nil
}

func DataBytes(c Cursor) ([]byte, error) {
	var out []byte
	if err := c.Data(CollectBytes(&out)); err != nil {
		return nil, err
	}
	return out, nil
}
