package main

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/voxchat/pkg/config"
	"github.com/go-go-golems/voxchat/pkg/logging"
)

var (
	configFile string
	withCaller bool
	settings   config.Settings
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "vox",
		Short:        "vox is a terminal client for a Vox chat backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// flags are parsed now, so settings and the logger can be built
			s, err := config.Load(config.NewViper(), configFile, cmd.Flags())
			if err != nil {
				return err
			}
			settings = s
			return logging.InitLogger(logging.Options{
				Level:      s.LogLevel,
				Format:     s.LogFormat,
				WithCaller: withCaller,
				Output:     cmd.ErrOrStderr(),
			})
		},
	}

	pf := rootCmd.PersistentFlags()
	config.AddFlags(pf)
	pf.StringVar(&configFile, "config", "", "Config file (default "+config.DefaultConfigFile()+")")
	pf.BoolVar(&withCaller, "with-caller", false, "Log caller information")

	rootCmd.AddCommand(newChatCommand(), newConfigCommand())
	return rootCmd
}

func main() {
	err := newRootCommand().Execute()
	cobra.CheckErr(err)
}
