package profile

import (
	"encoding/json"
	"fmt"

	"github.com/samaelod/flowc/ipgen"
	"github.com/samaelod/flowc/program"
	"github.com/samaelod/flowc/types"
)

// MaxGroupName is the longest template group name the engine accepts.
const MaxGroupName = 20

// ClientTemplate is the initiating side of a template.
type ClientTemplate struct {
	Program  *program.Program
	IPGen    *ipgen.Gen // nil takes the profile default
	Port     int        // zero means DefaultPort
	CPS      float64
	Limit    int
	Cont     bool
	GlobInfo types.GlobInfo

	programIndex int
}

type clientJSON struct {
	ProgramIndex int            `json:"program_index"`
	IPGen        *ipgen.Gen     `json:"ip_gen"`
	Cluster      struct{}       `json:"cluster"`
	Port         int            `json:"port"`
	CPS          float64        `json:"cps,omitempty"`
	Limit        int            `json:"limit,omitempty"`
	Cont         bool           `json:"cont,omitempty"`
	GlobInfo     types.GlobInfo `json:"glob_info,omitempty"`
}

func (c *ClientTemplate) MarshalJSON() ([]byte, error) {
	out := clientJSON{
		ProgramIndex: c.programIndex,
		IPGen:        c.IPGen,
		Port:         c.Port,
		CPS:          c.CPS,
		GlobInfo:     c.GlobInfo,
	}
	// cont only means something together with a limit
	if c.Limit > 0 {
		out.Limit = c.Limit
		out.Cont = c.Cont
	}
	return json.Marshal(out)
}

// ServerTemplate is the accepting side of a template.
type ServerTemplate struct {
	Program  *program.Program
	Assoc    Association
	GlobInfo types.GlobInfo

	programIndex int
}

type serverJSON struct {
	ProgramIndex int            `json:"program_index"`
	Assoc        Association    `json:"assoc"`
	GlobInfo     types.GlobInfo `json:"glob_info,omitempty"`
}

func (s *ServerTemplate) MarshalJSON() ([]byte, error) {
	return json.Marshal(serverJSON{
		ProgramIndex: s.programIndex,
		Assoc:        s.Assoc,
		GlobInfo:     s.GlobInfo,
	})
}

// Template pairs the two sides of one kind of connection.
type Template struct {
	Client *ClientTemplate
	Server *ServerTemplate
	Group  string // template group, empty for the unnamed group

	groupID int
}

// NewTemplate checks that both sides share a transport mode. A nil group
// puts the template in the unnamed group.
func NewTemplate(client *ClientTemplate, server *ServerTemplate, group *string) (*Template, error) {
	if client == nil || server == nil || client.Program == nil || server.Program == nil {
		return nil, fmt.Errorf("%w: template needs a client and a server program", program.ErrInvalidArgument)
	}
	if client.Program.Stream() != server.Program.Stream() {
		return nil, fmt.Errorf("%w: client program is %s, server program is %s",
			program.ErrTransportModeConflict, client.Program.Transport(), server.Program.Transport())
	}
	if err := checkGroupName(group); err != nil {
		return nil, err
	}
	if client.Port == 0 {
		client.Port = DefaultPort
	}
	t := &Template{Client: client, Server: server}
	if group != nil {
		t.Group = *group
	}
	return t, nil
}

func checkGroupName(name *string) error {
	switch {
	case name == nil:
		return nil
	case *name == "":
		return fmt.Errorf("%w: empty template group name", program.ErrInvalidArgument)
	case len(*name) > MaxGroupName:
		return fmt.Errorf("%w: template group name %q is longer than %d bytes", program.ErrInvalidArgument, *name, MaxGroupName)
	}
	return nil
}

// GroupID is the template group id, 0 for the unnamed group.
func (t *Template) GroupID() int { return t.groupID }

// ProgramIndices are the program_list positions of the client and server
// programs after the profile caches were filled.
func (t *Template) ProgramIndices() (client, server int) {
	return t.Client.programIndex, t.Server.programIndex
}

type templateJSON struct {
	Client  *ClientTemplate `json:"client_template"`
	Server  *ServerTemplate `json:"server_template"`
	GroupID int             `json:"tg_id,omitempty"`
}

func (t *Template) MarshalJSON() ([]byte, error) {
	return json.Marshal(templateJSON{Client: t.Client, Server: t.Server, GroupID: t.groupID})
}
