package memkv

import (
	"context"

	"github.com/google/btree"

	"github.com/typedkv/typedkv/internal/kvengine"
)

// Cursor is memkv's implementation of the engine's sole native search
// primitive plus linear stepping. Everything beyond Seek/First/Last/
// Next/Prev, in particular bounded reverse iteration, is built by
// internal/rangecursor on top of this.
type Cursor struct {
	snap    *txnSnapshot
	cur     []byte
	hasCur  bool
	exhausted bool
}

func (c *Cursor) Seek(_ context.Context, key []byte) ([]byte, []byte, error) {
	var found btree.Item
	c.snap.tree.AscendGreaterOrEqual(item{key: key}, func(i btree.Item) bool {
		found = i
		return false
	})
	return c.land(found)
}

func (c *Cursor) First(_ context.Context) ([]byte, []byte, error) {
	return c.land(c.snap.tree.Min())
}

func (c *Cursor) Last(_ context.Context) ([]byte, []byte, error) {
	return c.land(c.snap.tree.Max())
}

func (c *Cursor) Next(_ context.Context) ([]byte, []byte, error) {
	if !c.hasCur {
		return c.First(context.Background())
	}
	var found btree.Item
	seenCurrent := false
	c.snap.tree.AscendGreaterOrEqual(item{key: c.cur}, func(i btree.Item) bool {
		if !seenCurrent {
			seenCurrent = true
			return true // skip the current key itself
		}
		found = i
		return false
	})
	return c.land(found)
}

func (c *Cursor) Prev(_ context.Context) ([]byte, []byte, error) {
	if !c.hasCur {
		return c.Last(context.Background())
	}
	var found btree.Item
	c.snap.tree.DescendLessOrEqual(item{key: c.cur}, func(i btree.Item) bool {
		it := i.(item)
		if string(it.key) == string(c.cur) {
			return true // skip the current key itself
		}
		found = i
		return false
	})
	return c.land(found)
}

func (c *Cursor) Current(_ context.Context) ([]byte, []byte, error) {
	if !c.hasCur {
		return nil, nil, kvengine.ErrKeyNotFound
	}
	found := c.snap.tree.Get(item{key: c.cur})
	return c.land(found)
}

func (c *Cursor) land(found btree.Item) ([]byte, []byte, error) {
	if found == nil {
		c.hasCur = false
		c.exhausted = true
		return nil, nil, kvengine.ErrKeyNotFound
	}
	it := found.(item)
	c.cur = append([]byte(nil), it.key...)
	c.hasCur = true
	c.exhausted = false
	return append([]byte(nil), it.key...), append([]byte(nil), it.value...), nil
}

func (c *Cursor) Close() error {
	c.hasCur = false
	return nil
}
