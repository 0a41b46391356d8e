package rangecursor

import (
	"context"

	"github.com/typedkv/typedkv/internal/kvengine"
)

// Direction is the order a Cursor walks its Range in.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// Cursor is a directional, bounded iterator over a kvengine.Cursor. It
// never calls a native primitive other than Seek/Next/Prev/First/Last; all
// bound-checking and the reverse "<=K" emulation are plain Go comparisons
// over the bytes those calls return.
type Cursor struct {
	native     kvengine.Cursor
	rng        Range
	dir        Direction
	positioned bool
	done       bool
	key, value []byte
}

// New wraps native with rng and dir, not yet positioned: the first call to
// Next must be made before Key/Value are valid.
func New(native kvengine.Cursor, rng Range, dir Direction) *Cursor {
	return &Cursor{native: native, rng: rng, dir: dir}
}

// position performs the cursor's one-time initial seek, choosing the
// correct starting point for the requested direction and lower/upper
// bound.
func (c *Cursor) position(ctx context.Context) (key, value []byte, err error) {
	if c.dir == Forward {
		return c.positionForward(ctx)
	}
	return c.positionReverse(ctx)
}

func (c *Cursor) positionForward(ctx context.Context) ([]byte, []byte, error) {
	switch c.rng.Lower.Kind {
	case Unbounded:
		return c.native.First(ctx)
	case Inclusive:
		return c.native.Seek(ctx, c.rng.Lower.Key)
	case Exclusive:
		k, v, err := c.native.Seek(ctx, c.rng.Lower.Key)
		if err != nil {
			return nil, nil, err
		}
		// Step past every key the bound is a prefix of, not just an
		// exact match: a composite key extending the bound (trailing
		// primary-key bytes) is still "equal" to it for bound purposes.
		for boundCompare(k, c.rng.Lower.Key) == 0 {
			k, v, err = c.native.Next(ctx)
			if err != nil {
				return nil, nil, err
			}
		}
		return k, v, nil
	}
	return c.native.First(ctx)
}

// positionReverse implements the "<=K" emulation for the upper bound: the
// engine can only seek forward to the first key >= K, so finding the last
// key <= K requires incrementing K to K' (the lexicographically next
// possible key after K, via increment-with-carry over K's bytes), seeking
// to the first key >= K', stepping back once, and then — since that step
// back lands on the last key strictly less than K', which may still exceed
// K under the bound-length comparison — walking further back while the
// current key is still past the bound.
func (c *Cursor) positionReverse(ctx context.Context) ([]byte, []byte, error) {
	if c.rng.Upper.Kind == Unbounded {
		return c.native.Last(ctx)
	}

	upperKey := c.rng.Upper.Key
	incremented, overflowed := incrementWithCarry(upperKey)

	var k, v []byte
	var err error
	if overflowed {
		// Every possible key is <= upperKey's increment (there is no
		// larger byte string), so the last key in the whole database,
		// if any, is the starting point.
		k, v, err = c.native.Last(ctx)
	} else {
		k, v, err = c.native.Seek(ctx, incremented)
		if err == kvengine.ErrKeyNotFound {
			k, v, err = c.native.Last(ctx)
		} else if err == nil {
			k, v, err = c.native.Prev(ctx)
		}
	}
	if err != nil {
		return nil, nil, err
	}

	for (c.rng.Upper.Kind == Exclusive && boundCompare(k, upperKey) == 0) ||
		boundCompare(k, upperKey) > 0 {
		k, v, err = c.native.Prev(ctx)
		if err != nil {
			return nil, nil, err
		}
	}
	return k, v, nil
}

// Next advances the cursor and reports whether a key satisfying the
// range's bounds was found. A false return with a nil error means the
// cursor is exhausted; callers should stop iterating.
func (c *Cursor) Next(ctx context.Context) (bool, error) {
	if c.done {
		return false, nil
	}
	var k, v []byte
	var err error
	if !c.positioned {
		k, v, err = c.position(ctx)
		c.positioned = true
	} else if c.dir == Forward {
		k, v, err = c.native.Next(ctx)
	} else {
		k, v, err = c.native.Prev(ctx)
	}
	if err == kvengine.ErrKeyNotFound {
		c.done = true
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !c.withinBounds(k) {
		c.done = true
		return false, nil
	}
	c.key, c.value = k, v
	return true, nil
}

func (c *Cursor) withinBounds(k []byte) bool {
	if c.dir == Forward {
		switch c.rng.Upper.Kind {
		case Inclusive:
			return boundCompare(k, c.rng.Upper.Key) <= 0
		case Exclusive:
			return boundCompare(k, c.rng.Upper.Key) < 0
		}
		return true
	}
	switch c.rng.Lower.Kind {
	case Inclusive:
		return boundCompare(k, c.rng.Lower.Key) >= 0
	case Exclusive:
		return boundCompare(k, c.rng.Lower.Key) > 0
	}
	return true
}

// Key and Value expose the cursor's current position; valid only after a
// call to Next returned true.
func (c *Cursor) Key() []byte   { return c.key }
func (c *Cursor) Value() []byte { return c.value }

func (c *Cursor) Close() error { return c.native.Close() }
