// Package rangecursor implements C5: a bounded, directional cursor built
// entirely on top of kvengine.Cursor's one native primitive, Seek ("first
// key >= K"). Reverse iteration and "<=K" bounds, which the engine cannot
// express directly, are emulated here once so every caller gets the same
// correct algorithm instead of reimplementing it per engine.
package rangecursor

// BoundKind classifies one side of a Range.
type BoundKind int

const (
	Unbounded BoundKind = iota
	Inclusive
	Exclusive
)

// Bound is one endpoint of a Range: either unbounded, or a specific key
// byte string that is included or excluded from the scan.
type Bound struct {
	Kind BoundKind
	Key  []byte
}

// UnboundedBound is the zero-value, always-open endpoint.
func UnboundedBound() Bound { return Bound{Kind: Unbounded} }

// InclusiveBound returns a Bound that includes key.
func InclusiveBound(key []byte) Bound { return Bound{Kind: Inclusive, Key: key} }

// ExclusiveBound returns a Bound that excludes key.
func ExclusiveBound(key []byte) Bound { return Bound{Kind: Exclusive, Key: key} }

// Range is a lower and upper Bound over the cursor's key space. Bound
// checks compare each key against a bound over the bound's own length, so
// composite keys extending a bound (index encoding plus a primary-key
// suffix) count as equal to it. MaxPrefix records how many leading bytes
// the two bounds share, a hint engines with key-prefix compression can
// exploit; the cursor itself does not need it for correctness.
type Range struct {
	Lower     Bound
	Upper     Bound
	MaxPrefix int
}
