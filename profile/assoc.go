package profile

import (
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/samaelod/flowc/program"
	"github.com/samaelod/flowc/types"
)

// DefaultPort is the destination port of templates that do not name one.
const DefaultPort = 80

// AssocRule matches incoming flows to a server template.
type AssocRule struct {
	Port    int
	IPStart string
	IPEnd   string
	L7Map   []int // payload byte offsets
	AssocID *int64
}

func (r AssocRule) portOnly() bool {
	return r.IPStart == "" && r.IPEnd == "" && r.L7Map == nil && r.AssocID == nil
}

func (r AssocRule) validate() error {
	if r.Port < 0 || r.Port > 0xffff {
		return fmt.Errorf("%w: port %d", program.ErrInvalidArgument, r.Port)
	}
	for _, ip := range []string{r.IPStart, r.IPEnd} {
		if ip == "" {
			continue
		}
		if _, err := netip.ParseAddr(ip); err != nil {
			return fmt.Errorf("%w: association address %q", program.ErrInvalidArgument, ip)
		}
	}
	return nil
}

type l7MapJSON struct {
	Offset []int `json:"offset"`
}

type assocRuleJSON struct {
	Port    int        `json:"port"`
	IPStart string     `json:"ip_start,omitempty"`
	IPEnd   string     `json:"ip_end,omitempty"`
	L7Map   *l7MapJSON `json:"l7_map,omitempty"`
	AssocID *int64     `json:"assoc_id,omitempty"`
}

func (r AssocRule) MarshalJSON() ([]byte, error) {
	out := assocRuleJSON{Port: r.Port, IPStart: r.IPStart, IPEnd: r.IPEnd, AssocID: r.AssocID}
	if r.L7Map != nil {
		out.L7Map = &l7MapJSON{Offset: r.L7Map}
	}
	return json.Marshal(out)
}

// Association is the rule list of a server template. An empty association
// is a single rule on DefaultPort.
type Association []AssocRule

func (a Association) rules() []AssocRule {
	if len(a) == 0 {
		return []AssocRule{{Port: DefaultPort}}
	}
	return a
}

// Port is the destination port of the first rule.
func (a Association) Port() int { return a.rules()[0].Port }

// PortOnly reports whether the association matches on the port alone.
// Those are the only associations checked for duplicate ports; any other
// rule is resolved by the engine.
func (a Association) PortOnly() bool {
	r := a.rules()
	return len(r) == 1 && r[0].portOnly()
}

func (a Association) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.rules())
}

// AssociationFromConfig converts and validates description rules. A nil
// result means no association was given.
func AssociationFromConfig(rules []types.AssocRule) (Association, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	a := make(Association, 0, len(rules))
	for _, r := range rules {
		rule := AssocRule{
			Port:    r.Port,
			IPStart: r.IPStart,
			IPEnd:   r.IPEnd,
			L7Map:   r.L7Map,
			AssocID: r.AssocID,
		}
		if rule.Port == 0 {
			rule.Port = DefaultPort
		}
		if err := rule.validate(); err != nil {
			return nil, err
		}
		a = append(a, rule)
	}
	return a, nil
}
