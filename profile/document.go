package profile

import (
	"encoding/json"

	"github.com/samaelod/flowc/cache"
	"github.com/samaelod/flowc/types"
)

// Document is the serialized profile read by the traffic engine. Template
// group 0 is the unnamed group and is not listed in TGNames.
type Document struct {
	BufList       *cache.BufferCache  `json:"buf_list"`
	IPGenDistList *cache.IPPoolCache  `json:"ip_gen_dist_list"`
	ProgramList   *cache.ProgramCache `json:"program_list"`
	CGlobInfo     types.GlobInfo      `json:"c_glob_info,omitempty"`
	SGlobInfo     types.GlobInfo      `json:"s_glob_info,omitempty"`
	Templates     []*Template         `json:"templates"`
	TGNames       []string            `json:"tg_names"`
}

// Document fills the caches and returns the profile document.
func (p *Profile) Document() (*Document, error) {
	if err := p.Fill(); err != nil {
		return nil, err
	}
	return &Document{
		BufList:       p.cache.Buffers,
		IPGenDistList: p.cache.Pools,
		ProgramList:   p.cache.Programs,
		CGlobInfo:     p.CGlobInfo,
		SGlobInfo:     p.SGlobInfo,
		Templates:     p.Templates,
		TGNames:       p.Groups(),
	}, nil
}

func (p *Profile) MarshalJSON() ([]byte, error) {
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// TemplateStats is the expected load of one template.
type TemplateStats struct {
	Index      int
	Group      string
	TotalBytes uint64 // client plus server send bytes per connection
	CPS        float64
	BPS        float64 // TotalBytes * CPS * 8
}

// Stats summarizes a profile.
type Stats struct {
	Buffers   int
	Programs  int
	Pools     int
	Templates []TemplateStats
	TotalCPS  float64
	TotalBPS  float64
}

// Stats fills the caches and computes the per template load.
func (p *Profile) Stats() (*Stats, error) {
	if err := p.Fill(); err != nil {
		return nil, err
	}
	s := &Stats{
		Buffers:  p.cache.Buffers.Len(),
		Programs: p.cache.Programs.Len(),
		Pools:    p.cache.Pools.Len(),
	}
	for i, t := range p.Templates {
		ci, si := t.ProgramIndices()
		bytes := p.cache.Programs.TotalSendBytes(ci) + p.cache.Programs.TotalSendBytes(si)
		ts := TemplateStats{
			Index:      i,
			Group:      t.Group,
			TotalBytes: bytes,
			CPS:        t.Client.CPS,
			BPS:        float64(bytes) * t.Client.CPS * 8,
		}
		s.Templates = append(s.Templates, ts)
		s.TotalCPS += ts.CPS
		s.TotalBPS += ts.BPS
	}
	return s, nil
}
