package cmd

import (
	"os"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/samaelod/flowc/compiler"
	"github.com/samaelod/flowc/config"
	"github.com/samaelod/flowc/tui"
)

var (
	cfgFile string
	// Verbose boolean flag for verbose logging
	Verbose bool
	// AppVersion is set at build time
	AppVersion = "dev"
)

// rootCmd opens the browser when called without a subcommand
var rootCmd = &cobra.Command{
	Use:           "flowc",
	Short:         "Compile traffic profiles from Lua descriptions and packet captures",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.Run(AppVersion, compilerOptions())
	},
}

// Execute runs the command line. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	log.SetHandler(clihandler.Default)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./flowc.json or $HOME/.config/flowc/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&Verbose, "verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().Int("udp-mtu", 0, "truncate UDP payloads of captures to fit this MTU")
	rootCmd.PersistentFlags().Bool("compress", false, "zstd compress written profiles")
	rootCmd.PersistentFlags().Bool("pretty", false, "indent written profiles")
	viper.BindPFlag("udp_mtu", rootCmd.PersistentFlags().Lookup("udp-mtu"))
	viper.BindPFlag("compress", rootCmd.PersistentFlags().Lookup("compress"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))

	viper.SetEnvPrefix("flowc")
	viper.AutomaticEnv()

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// initConfig loads the config file. Its values are the defaults of the
// matching flags and FLOWC_* environment variables.
func initConfig() {
	if Verbose {
		log.SetLevel(log.DebugLevel)
	}

	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		cobra.CheckErr(err)
		config.SetDefault(cfg)
	} else {
		cfg, err = config.LoadDefault()
		cobra.CheckErr(err)
	}

	viper.SetDefault("udp_mtu", cfg.UDPMTU)
	viper.SetDefault("compress", cfg.Compress)
	viper.SetDefault("pretty", cfg.Pretty)
	viper.SetDefault("output_dir", cfg.OutputDir)
}

func compilerOptions() compiler.Options {
	return compiler.Options{
		UDPMTU:   viper.GetInt("udp_mtu"),
		Pretty:   viper.GetBool("pretty"),
		Compress: viper.GetBool("compress"),
	}
}
