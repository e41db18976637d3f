package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snups/snupsd/pkg/config"
	"github.com/snups/snupsd/pkg/system"
)

type runtimeState struct {
	opts Config
	cfg  config.Config
	log  *zap.SugaredLogger
}

// NewRootCommand builds the snupsd command tree.
func NewRootCommand(opts Config) *cobra.Command {
	rt := &runtimeState{opts: opts}

	root := &cobra.Command{
		Use:          "snupsd",
		Short:        "SN UPS monitor daemon",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt.opts.withDefaults()
			if cmd.Name() == "version" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
				return nil
			}
			return rt.load()
		},
	}

	root.PersistentFlags().StringVar(&rt.opts.ConfigPath, "config", opts.ConfigPath, "Path to config file")
	root.PersistentFlags().BoolVar(&rt.opts.Debug, "debug", opts.Debug, "Enable debug level logging")
	root.PersistentFlags().BoolVar(&rt.opts.Syslog, "syslog", opts.Syslog, "Also write log entries to the local syslog daemon")

	root.AddCommand(
		newRunCommand(rt),
		newMXCommand(rt),
		newSendTestCommand(rt),
		newVersionCommand(rt),
	)
	return root
}

// load reads the configuration and sets up logging.
func (rt *runtimeState) load() error {
	if rt.opts.Logger != nil {
		rt.log = rt.opts.Logger
	} else {
		logger, err := system.NewLogger(rt.opts.Debug, rt.opts.Syslog)
		if err != nil {
			return err
		}
		rt.log = logger.Sugar()
	}

	cfg, err := config.Load(rt.opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if msg := cfg.NormalizeAuth(); msg != "" {
		rt.log.Warnw("Mail authentication disabled", "reason", msg)
	}
	rt.cfg = cfg
	return nil
}
