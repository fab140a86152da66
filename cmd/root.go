package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/agentsquad/config"
)

type loader func() (*config.Config, error)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "agentsquad",
		Short:         "Coordinate groups of agent sessions",
		Long:          "agentsquad creates groups of model-backed agent sessions and dispatches prompts to them by broadcast, in sequence, through an orchestrator or in a self-evaluating reflection loop.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (default ./agentsquad.yaml or ~/.agentsquad/agentsquad.yaml)")
	flags.String("provider", "", "model provider: anthropic, openai or mock")
	flags.String("model", "", "default model for sessions without one")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("store", "", "snapshot file for groups and sessions")

	_ = v.BindPFlag("provider", flags.Lookup("provider"))
	_ = v.BindPFlag("model", flags.Lookup("model"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("store.path", flags.Lookup("store"))

	load := func() (*config.Config, error) {
		return config.LoadWith(v, configPath)
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newParseCmd(),
		newRunCmd(load),
		newGroupsCmd(load),
	)

	return rootCmd
}
