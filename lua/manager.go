package lua

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/samaelod/flowc/config"
	"github.com/samaelod/flowc/types"
)

// SaveToRecent stores a description in the recent directory under the name
// of its source with a free counter appended, e.g. http.pcap -> http_1.lua.
// Lua sources without caps are copied as they are. Anything else is written
// from cfg, whose cap paths no longer depend on the source directory.
// It returns the path of the new file.
func SaveToRecent(cfg *types.Config, sourcePath string) (string, error) {
	appConfig, err := config.LoadDefault()
	if err != nil {
		return "", errors.Wrap(err, "failed to load config")
	}

	if err := os.MkdirAll(appConfig.RecentDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create recent directory")
	}

	base := filepath.Base(sourcePath)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	var (
		path string
		f    *os.File
	)
	for counter := 1; ; counter++ {
		path = filepath.Join(appConfig.RecentDir, fmt.Sprintf("%s_%d.lua", name, counter))
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return "", errors.Wrap(err, "failed to create description file")
		}
	}
	if err := writeRecent(f, cfg, sourcePath); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", errors.Wrap(err, "failed to close description file")
	}
	return path, nil
}

func writeRecent(w io.Writer, cfg *types.Config, sourcePath string) error {
	if strings.HasSuffix(sourcePath, ".lua") && len(cfg.Caps) == 0 {
		// keep comments and layout of hand written descriptions
		src, err := os.Open(sourcePath)
		if err != nil {
			return errors.Wrap(err, "failed to open source lua file")
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return errors.Wrap(err, "failed to copy lua content")
	}
	return errors.Wrap(WriteConfig(w, cfg), "failed to write description")
}
