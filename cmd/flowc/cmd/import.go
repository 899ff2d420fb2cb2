package cmd

import (
	"os"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/samaelod/flowc/compiler"
	"github.com/samaelod/flowc/lua"
	"github.com/samaelod/flowc/types"
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().BoolP("explicit", "x", false, "spell out the programs instead of referencing the capture")
	importCmd.Flags().StringP("output", "o", "", "description file (default is <recent_dir>/<name>_N.lua)")
	viper.BindPFlag("import.explicit", importCmd.Flags().Lookup("explicit"))
	viper.BindPFlag("import.output", importCmd.Flags().Lookup("output"))
}

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <capture.pcap>",
	Short: "Write a Lua description of a capture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !compiler.IsCapture(args[0]) {
			return errors.Errorf("%s is not a capture file", args[0])
		}

		var (
			cfg *types.Config
			err error
		)
		if viper.GetBool("import.explicit") {
			cfg, err = compiler.ExplicitConfig(args[0], viper.GetInt("udp_mtu"))
		} else {
			cfg, err = compiler.CaptureConfig(args[0])
		}
		if err != nil {
			return err
		}

		path := viper.GetString("import.output")
		if path == "" {
			if path, err = lua.SaveToRecent(cfg, args[0]); err != nil {
				return err
			}
		} else if err := writeDescription(path, cfg); err != nil {
			return err
		}

		log.WithField("path", path).Info("wrote description")
		return nil
	},
}

func writeDescription(path string, cfg *types.Config) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create description file")
	}
	if err := lua.WriteConfig(f, cfg); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to write description")
	}
	return f.Close()
}
