package geometry

import "github.com/OCAP2/copterviz/pkg/core"

// Cache holds the vehicle primitives built once at startup. It is read-only
// after NewCache returns and safe to share.
type Cache struct {
	params     Params
	primitives []core.Primitive
}

// NewCache builds the vehicle for p.
func NewCache(p Params) *Cache {
	p = p.normalize()
	return &Cache{
		params:     p,
		primitives: Build(p),
	}
}

// Params returns the clamped parameters the cache was built from.
func (c *Cache) Params() Params {
	return c.params
}

// Len returns the number of primitives.
func (c *Cache) Len() int {
	return len(c.primitives)
}

// Primitives returns a copy of the cached primitives.
func (c *Cache) Primitives() []core.Primitive {
	out := make([]core.Primitive, len(c.primitives))
	copy(out, c.primitives)
	return out
}

// Stamped returns a copy with every header's stamp and seq taken from h.
// The frame id stays the vehicle frame.
func (c *Cache) Stamped(h core.Header) []core.Primitive {
	out := c.Primitives()
	for i := range out {
		out[i].Header.Stamp = h.Stamp
		out[i].Header.Seq = h.Seq
	}
	return out
}
