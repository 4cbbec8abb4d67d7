package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bobg/cloudlock/timeoracle"
)

func newTimeserverCmd(v *viper.Viper, flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeserver",
		Short: "Serve this host's clock as a time oracle",
		Long: `Serve the current time to cloudlock nodes checking their clock skew.

Every TCP connection to --listen receives the epoch time in milliseconds
followed by a newline. With --nats-url, the same reply is also served
to NATS requests on --subject.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				logger  = newLogger(flags.verbose)
				listen  = v.GetString("timeserver.listen")
				natsURL = v.GetString("timeserver.nats_url")
				subject = v.GetString("timeserver.subject")
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if natsURL != "" {
				nc, err := dialNATS(ctx, logger, natsURL, "")
				if err != nil {
					return err
				}
				defer nc.Close()

				srv, err := timeoracle.ServeNATS(nc, subject, nil)
				if err != nil {
					return err
				}
				defer srv.Stop()

				logger.Info("serving time over NATS", "subject", subject)
			}

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return errors.Wrapf(err, "listening on %s", listen)
			}
			logger.Info("serving time over TCP", "addr", ln.Addr())

			err = (&timeoracle.Server{Logger: logger}).Serve(ctx, ln)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	f := cmd.Flags()
	f.String("listen", ":3737", "TCP address to serve on")
	f.String("nats-url", "", "also serve over this NATS server")
	f.String("subject", "cloudlock.time", "NATS request subject")
	_ = v.BindPFlag("timeserver.listen", f.Lookup("listen"))
	_ = v.BindPFlag("timeserver.nats_url", f.Lookup("nats-url"))
	_ = v.BindPFlag("timeserver.subject", f.Lookup("subject"))

	return cmd
}
