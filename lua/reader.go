package lua

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/samaelod/flowc/profile"
	"github.com/samaelod/flowc/types"
)

// description keys are matched verbatim against the gluamapper tags
var mapper = gluamapper.NewMapper(gluamapper.Option{
	NameFunc: func(s string) string { return s },
	TagName:  "gluamapper",
})

// ReadConfig runs a Lua description and maps the table it returns. Cap
// file paths are made relative to the directory of the description.
func ReadConfig(path string) (*types.Config, error) {
	L := lua.NewState()
	defer L.Close()

	// Execute Lua file
	if err := L.DoFile(path); err != nil {
		return nil, errors.Wrapf(err, "run %s", path)
	}

	// Lua file returns the description table
	lv := L.Get(-1)
	table, ok := lv.(*lua.LTable)
	if !ok {
		return nil, errors.Errorf("%s did not return a table", path)
	}

	var cfg types.Config

	// Map Lua table → Go struct
	if err := mapper.Map(table, &cfg); err != nil {
		return nil, errors.Wrapf(err, "map %s", path)
	}

	dir := filepath.Dir(path)
	for i := range cfg.Caps {
		if f := cfg.Caps[i].File; f != "" && !filepath.IsAbs(f) {
			cfg.Caps[i].File = filepath.Join(dir, f)
		}
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid description")
	}
	return &cfg, nil
}

// ValidateConfig checks what the mapping cannot: the description has
// something to build and every command names an operation.
func ValidateConfig(cfg *types.Config) error {
	if len(cfg.Templates) == 0 && len(cfg.Caps) == 0 {
		return errors.New("description has neither templates nor caps")
	}
	for i, t := range cfg.Templates {
		for side, cmds := range map[string][]types.Command{"client": t.Client.Program, "server": t.Server.Program} {
			for j, c := range cmds {
				if c.Op == "" {
					return errors.Errorf("template %d %s command %d: missing op", i, side, j)
				}
			}
		}
	}
	for i, c := range cfg.Caps {
		if c.File == "" {
			return errors.Errorf("cap %d: missing file", i)
		}
	}
	return nil
}

// ReadProfile reads a Lua description and builds the profile it describes.
func ReadProfile(path string, traces profile.TraceReader) (*profile.Profile, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	p, err := Build(cfg, traces)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return p, nil
}
