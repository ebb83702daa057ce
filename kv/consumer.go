package kv

// Consumer is the generic visitor used to stream key/data bytes out of an
// engine without ever requiring the full value to be materialized in memory
// (§4.3, §9 Design Notes "Consumer callbacks for key/data streaming").
//
// Accept is called one or more times with consecutive chunks of the value.
// Returning a non-nil error aborts the stream; per §7 propagation rules any
// non-OK return from a consumer is surfaced to the public edge as Abort.
type Consumer interface {
	Accept(chunk []byte) error
}

// ConsumerFunc adapts a plain function to the Consumer interface.
type ConsumerFunc func(chunk []byte) error

func (f ConsumerFunc) Accept(chunk []byte) error { return f(chunk) }

// CollectBytes returns a Consumer that appends every chunk into *out.
func CollectBytes(out *[]byte) Consumer {
	return ConsumerFunc(func(chunk []byte) error {
		*out = append(*out, chunk...)
		return nil
	})
}

// StreamCompare is a stateful visitor used to compare a locally-held byte
// slice against a value streamed chunk-by-chunk, without ever materializing
// the streamed side. It aborts on first mismatch (§4.5.6: "large key
// comparison is a stateful visitor that aborts on first mismatch").
type StreamCompare struct {
	want   []byte
	pos    int
	Equal  bool
	mismatched bool
}

// NewStreamCompare builds a comparator that checks streamed chunks against want.
func NewStreamCompare(want []byte) *StreamCompare {
	return &StreamCompare{want: want, Equal: true}
}

func (c *StreamCompare) Accept(chunk []byte) error {
	if c.mismatched {
		return New(Abort)
	}
	if c.pos+len(chunk) > len(c.want) {
		c.Equal = false
		c.mismatched = true
		return New(Abort)
	}
	for i, b := range chunk {
		if b != c.want[c.pos+i] {
			c.Equal = false
			c.mismatched = true
			return New(Abort)
		}
	}
	c.pos += len(chunk)
	return nil
}

// Done finalizes the comparison; call after streaming completes without abort.
func (c *StreamCompare) Done() bool {
	return c.Equal && c.pos == len(c.want)
}
