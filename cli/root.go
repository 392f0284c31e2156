// Package cli wires configuration, logging and the pipeline into the
// talkpip command line.
package cli

import (
	"errors"

	"talkpip/config"
	"talkpip/logging"

	"github.com/spf13/cobra"
)

// ErrTalksFailed is returned by run when at least one talk did not finish.
var ErrTalksFailed = errors.New("one or more talks failed")

type commandContext struct {
	configFlag   string
	logLevelFlag string
	cfg          *config.Config
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.LoadFile(c.configFlag)
	if err != nil {
		return nil, err
	}
	if c.logLevelFlag != "" {
		cfg.LogLevel = c.logLevelFlag
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	c.cfg = cfg
	return cfg, nil
}

func NewRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "talkpip",
		Short:         "Sync conference slides to talk videos and composite them picture-in-picture",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "timeline" || cmd.Name() == "help" {
				logging.Init(ctx.logLevelFlag, "auto")
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevelFlag, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newTimelineCommand())

	return rootCmd
}
