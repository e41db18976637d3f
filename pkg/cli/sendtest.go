package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/snups/snupsd/pkg/mail"
)

// DefaultTestMessage is the body text of send-test without arguments.
const DefaultTestMessage = "Test message"

func newSendTestCommand(rt *runtimeState) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "send-test [text]",
		Short: "Send one notification with the configured mail settings and report the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rt.cfg.Mail
			if to != "" {
				cfg.To = to
				if rt.cfg.Mail.From == rt.cfg.Mail.To {
					cfg.From = to
				}
			}
			if cfg.To == "" {
				return errors.New("no recipient: set mail.to or pass --to")
			}
			text := DefaultTestMessage
			if len(args) > 0 {
				text = strings.Join(args, " ")
			}

			outcome := rt.newEngine().Deliver(cmd.Context(), cfg, mail.NewRequest(cfg, text, time.Now()))
			_, _ = fmt.Fprintln(rt.opts.OutputWriter, outcome.String())
			if outcome.Status != mail.StatusSuccess {
				return fmt.Errorf("sending test notification to %s: %s", cfg.To, outcome)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Recipient override")

	return cmd
}
