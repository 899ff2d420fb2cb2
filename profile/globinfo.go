package profile

import (
	"fmt"
	"math"

	"github.com/samaelod/flowc/program"
	"github.com/samaelod/flowc/types"
)

// NormalizeGlobInfo makes a glob info read from a description JSON-safe.
// Values are passed to the engine untouched otherwise: nested tables become
// objects or arrays and integral numbers lose their fraction.
func NormalizeGlobInfo(g types.GlobInfo) (types.GlobInfo, error) {
	if g == nil {
		return nil, nil
	}
	out := make(types.GlobInfo, len(g))
	for section, params := range g {
		p := make(map[string]interface{}, len(params))
		for k, v := range params {
			nv, err := normalizeValue(v)
			if err != nil {
				return nil, fmt.Errorf("glob_info %s.%s: %w", section, k, err)
			}
			p[k] = nv
		}
		out[section] = p
	}
	return out, nil
}

func normalizeValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t), nil
		}
		return t, nil
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non string key %v", program.ErrInvalidArgument, k)
			}
			ne, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			m[ks] = ne
		}
		return m, nil
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			ne, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			m[k] = ne
		}
		return m, nil
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, e := range t {
			ne, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			s[i] = ne
		}
		return s, nil
	}
	return v, nil
}
