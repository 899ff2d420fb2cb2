package cache

import (
	"encoding/hex"
	"encoding/json"

	"github.com/samaelod/flowc/program"
)

// BufferCache deduplicates send payloads across all programs of a profile.
type BufferCache struct {
	list *List[program.Buffer]
}

func NewBufferCache() *BufferCache {
	return &BufferCache{list: NewList(func(b program.Buffer) (string, error) {
		return b.Key(), nil
	})}
}

// Add returns the index of buf.
func (c *BufferCache) Add(buf program.Buffer) (int, error) {
	return c.list.Add(buf)
}

// AddProgram adds the payload of every send of p and points the sends at
// their buffer index.
func (c *BufferCache) AddProgram(p *program.Program) error {
	return p.IndexBuffers(c.Add)
}

func (c *BufferCache) Len() int                  { return c.list.Len() }
func (c *BufferCache) Buffers() []program.Buffer { return c.list.Items() }
func (c *BufferCache) Get(i int) program.Buffer  { return c.list.Get(i) }
func (c *BufferCache) Clear()                    { c.list.Clear() }

func (c *BufferCache) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.list.Items())
}

// ProgramCache deduplicates whole compiled programs by the hash of their
// serialized form.
type ProgramCache struct {
	list *List[*program.Program]
}

func NewProgramCache() *ProgramCache {
	return &ProgramCache{list: NewList(ProgramKey)}
}

// ProgramKey is the hex blake3 digest of the program JSON. Buffer indices
// must be assigned before, so that equal payloads hash equal.
func ProgramKey(p *program.Program) (string, error) {
	sum, err := p.Hash()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

// Add returns the index of p. p must be compiled.
func (c *ProgramCache) Add(p *program.Program) (int, error) {
	return c.list.Add(p)
}

// TotalSendBytes is the send volume of the program stored at i.
func (c *ProgramCache) TotalSendBytes(i int) uint64 {
	return c.list.Get(i).TotalSendBytes()
}

func (c *ProgramCache) Len() int                     { return c.list.Len() }
func (c *ProgramCache) Programs() []*program.Program { return c.list.Items() }
func (c *ProgramCache) Get(i int) *program.Program   { return c.list.Get(i) }
func (c *ProgramCache) Clear()                       { c.list.Clear() }

func (c *ProgramCache) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.list.Items())
}

// Set is the group of caches owned by one profile. It is rebuilt as a
// whole: Clear then add everything again.
type Set struct {
	Buffers  *BufferCache
	Programs *ProgramCache
	Pools    *IPPoolCache
}

func NewSet() *Set {
	return &Set{
		Buffers:  NewBufferCache(),
		Programs: NewProgramCache(),
		Pools:    NewIPPoolCache(),
	}
}

func (s *Set) Clear() {
	s.Buffers.Clear()
	s.Programs.Clear()
	s.Pools.Clear()
}
