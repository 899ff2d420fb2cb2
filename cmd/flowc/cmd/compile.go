package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/samaelod/flowc/compiler"
)

func init() {
	rootCmd.AddCommand(compileCmd)
	compileCmd.Flags().StringP("output", "o", "", "output file, - for stdout (default is <output_dir>/<name>.json)")
	viper.BindPFlag("compile.output", compileCmd.Flags().Lookup("output"))
}

// compileCmd represents the compile command
var compileCmd = &cobra.Command{
	Use:     "compile <profile.lua|capture.pcap>",
	Aliases: []string{"c"},
	Short:   "Compile a profile into the engine JSON document",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := compilerOptions()
		c := compiler.New(opts)
		if err := c.Load(args[0]); err != nil {
			return err
		}

		output := viper.GetString("compile.output")
		switch output {
		case "-":
			return c.Write(os.Stdout, opts.Compress)
		case "":
			output = compiler.OutputPath(args[0], viper.GetString("output_dir"), opts.Compress)
		}
		return c.WriteFile(output)
	},
}
