package rangecursor

import "bytes"

// incrementWithCarry returns the lexicographically smallest byte string
// strictly greater than key, by incrementing key's last byte and carrying
// into preceding bytes on overflow, same as adding one to a big-endian
// integer. If every byte overflows (key is all 0xFF, including the empty
// key treated as having no bytes to increment), overflowed is true and
// there is no such byte string: it would need to be longer than any finite
// key, so callers fall back to the last key in the whole range instead.
func incrementWithCarry(key []byte) (incremented []byte, overflowed bool) {
	out := make([]byte, len(key))
	copy(out, key)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out, false
		}
		out[i] = 0x00
	}
	return nil, true
}

// boundCompare compares key against a bound's bytes over the bound's own
// length. A composite key extending the bound (same leading bytes plus a
// trailing primary-key suffix, as in a non-unique alternate index entry)
// compares equal to it, so inclusive bounds admit every extension and
// exclusive bounds reject them all.
func boundCompare(key, bound []byte) int {
	return bytes.Compare(truncate(key, len(bound)), bound)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// PrefixUpperBound returns the exclusive Bound that stops a forward scan
// just past every key sharing prefix, for callers (the query planner)
// that scope a scan to one identity prefix without an explicit range end.
// ok is false when prefix is all 0xFF and therefore already covers every
// key that could follow it: the caller should use UnboundedBound instead.
func PrefixUpperBound(prefix []byte) (bound Bound, ok bool) {
	incremented, overflowed := incrementWithCarry(prefix)
	if overflowed {
		return Bound{}, false
	}
	return ExclusiveBound(incremented), true
}
