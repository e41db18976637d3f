package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snups/snupsd/pkg/mx"
)

func newMXCommand(rt *runtimeState) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "mx [address]",
		Short: "Show the mail exchanges notifications for an address would be sent to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := rt.cfg.Mail.To
			if len(args) == 1 {
				address = args[0]
			}
			if address == "" {
				return errors.New("no address given and mail.to is not configured")
			}

			lookup := mx.HostLookup{Runner: rt.opts.Runner, Command: rt.cfg.DNS.Command, Timeout: rt.cfg.DNS.Timeout}
			resolver := mx.NewResolver(rt.cfg.DNS, lookup, rt.log)

			var candidates []mx.Candidate
			if once {
				nx, found, err := resolver.Resolve(cmd.Context(), address)
				if err != nil {
					return err
				}
				if nx {
					return fmt.Errorf("%w: %s", mx.ErrNXDomain, address)
				}
				candidates = found
			} else {
				found, err := resolver.ResolveWithRetry(cmd.Context(), address)
				if err != nil {
					return err
				}
				candidates = found
			}

			w := rt.opts.OutputWriter
			if len(candidates) == 0 {
				_, _ = fmt.Fprintln(w, "no mail server found")
				return nil
			}
			for _, c := range candidates {
				_, _ = fmt.Fprintf(w, "%d %s\n", c.Priority, c.Host)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single lookup without retries")

	return cmd
}
