package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samaelod/flowc/ipgen"
)

var ErrOverlappingAddressPools = errors.New("overlapping address pools")

// OverlapError names the client pool being added and the stored client
// pool it collides with.
type OverlapError struct {
	New      string
	Existing string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s: %s and %s", ErrOverlappingAddressPools, e.New, e.Existing)
}

func (e *OverlapError) Unwrap() error { return ErrOverlappingAddressPools }

// IPPoolCache deduplicates address pools. Client pools must not overlap
// any other stored client pool; server pools are not checked.
type IPPoolCache struct {
	list *List[*ipgen.Dist]
}

func NewIPPoolCache() *IPPoolCache {
	l := NewList(func(d *ipgen.Dist) (string, error) { return d.Key(), nil })
	l.admit = checkOverlap
	return &IPPoolCache{list: l}
}

func checkOverlap(d *ipgen.Dist, stored []*ipgen.Dist) error {
	if !d.Client() {
		return nil
	}
	for _, p := range stored {
		if p.Client() && p.Overlaps(d) {
			return &OverlapError{New: d.String(), Existing: p.String()}
		}
	}
	return nil
}

// Add stores both pools of g and sets their indices.
func (c *IPPoolCache) Add(g *ipgen.Gen) error {
	for _, d := range []*ipgen.Dist{g.Client, g.Server} {
		i, err := c.list.Add(d)
		if err != nil {
			return err
		}
		d.SetIndex(i)
	}
	return nil
}

func (c *IPPoolCache) Len() int             { return c.list.Len() }
func (c *IPPoolCache) Pools() []*ipgen.Dist { return c.list.Items() }
func (c *IPPoolCache) Clear()               { c.list.Clear() }

func (c *IPPoolCache) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.list.Items())
}
