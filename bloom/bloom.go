// Package bloom provides the three-dimensional Bloom filter backing the
// query server's exact-match pre-check, together with its multi-level
// variant and file persistence.
package bloom

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultDimension is the side length of each axis of the bit
	// cube, giving 20x20x20 = 8000 bits by default.
	DefaultDimension = 20

	// DefaultNumHashes is the number of hash probes per element.
	DefaultNumHashes = 14
)

// DefaultDimensions returns the default bit-cube shape.
func DefaultDimensions() [3]int {
	return [3]int{DefaultDimension, DefaultDimension, DefaultDimension}
}

// Filter is a 3-D Bloom filter over field:value pairs. Dimensions and
// hash count are fixed at construction. Lookups never produce false
// negatives. Each probe reduces one digest modulo every axis, so its
// position is fixed by the digest modulo lcm(d1,d2,d3): false positives
// occur at the rate of a flat filter of that many bits, which is 20 for
// the default 20x20x20 shape.
type Filter struct {
	mu         sync.RWMutex
	dimensions [3]int
	numHashes  int
	bits       []bool // flattened cube, index (x*d2+y)*d3+z
}

// New constructs an empty filter with the given cube shape and hash
// count. Non-positive parameters fall back to the defaults.
func New(dimensions [3]int, numHashes int) *Filter {
	for i, d := range dimensions {
		if d <= 0 {
			dimensions[i] = DefaultDimension
		}
	}
	if numHashes <= 0 {
		numHashes = DefaultNumHashes
	}
	return &Filter{
		dimensions: dimensions,
		numHashes:  numHashes,
		bits:       make([]bool, dimensions[0]*dimensions[1]*dimensions[2]),
	}
}

// NewDefault constructs a filter with the default shape and hash count.
func NewDefault() *Filter {
	return New(DefaultDimensions(), DefaultNumHashes)
}

// Serialize renders an element in the canonical indexed form: maps are
// flattened to their sorted key/value pairs, everything else is printed
// as-is, and the whole result is lowercased.
func Serialize(element interface{}) string {
	switch v := element.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s:%v", k, v[k])
		}
		return strings.ToLower(strings.Join(pairs, ","))
	case string:
		return strings.ToLower(v)
	default:
		return strings.ToLower(fmt.Sprintf("%v", v))
	}
}

// element forms the canonical string indexed for a field-value pair.
func element(field, value string) string {
	return Serialize(field + ":" + value)
}

// coordinates derives the i-th probe position for an element. The
// SHA-224 digest of the seeded element, read as a big-endian integer,
// is reduced modulo each axis; all three axes share the same digest.
func (f *Filter) coordinates(i int, elem string) (int, int, int) {
	digest := sha256.Sum224([]byte(strconv.Itoa(i) + elem))
	h := new(big.Int).SetBytes(digest[:])

	mod := new(big.Int)
	x := int(mod.Mod(h, big.NewInt(int64(f.dimensions[0]))).Int64())
	y := int(mod.Mod(h, big.NewInt(int64(f.dimensions[1]))).Int64())
	z := int(mod.Mod(h, big.NewInt(int64(f.dimensions[2]))).Int64())
	return x, y, z
}

func (f *Filter) index(x, y, z int) int {
	return (x*f.dimensions[1]+y)*f.dimensions[2] + z
}

// Add indexes a field-value pair, setting all probe positions.
func (f *Filter) Add(field, value string) {
	elem := element(field, value)

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < f.numHashes; i++ {
		x, y, z := f.coordinates(i, elem)
		f.bits[f.index(x, y, z)] = true
	}
}

// Lookup reports whether a field-value pair may have been added. A
// false result is definitive; a true result may be a false positive.
func (f *Filter) Lookup(field, value string) bool {
	elem := element(field, value)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := 0; i < f.numHashes; i++ {
		x, y, z := f.coordinates(i, elem)
		if !f.bits[f.index(x, y, z)] {
			return false
		}
	}
	return true
}

// Dimensions returns the cube shape.
func (f *Filter) Dimensions() [3]int {
	return f.dimensions
}

// NumHashes returns the probe count.
func (f *Filter) NumHashes() int {
	return f.numHashes
}

// Equal reports whether two filters share parameters and bit contents.
func (f *Filter) Equal(other *Filter) bool {
	if other == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()

	if f.dimensions != other.dimensions || f.numHashes != other.numHashes {
		return false
	}
	for i, b := range f.bits {
		if b != other.bits[i] {
			return false
		}
	}
	return true
}
