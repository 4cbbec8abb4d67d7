package main

import (
	"fmt"
	"io"
	"time"

	"github.com/bobg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bobg/cloudlock"
)

func newStatusCmd(v *viper.Viper, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current lease record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if cfg.Label == "" {
				return errors.Wrap(cloudlock.ErrInvalidConfig, "label is required")
			}

			ctx := cmd.Context()

			store, closeStore, err := openStore(ctx, cfg.Store, newLogger(flags.verbose))
			if err != nil {
				return err
			}
			defer closeStore()

			rec, err := store.Get(ctx, cfg.Label)
			if errors.Is(err, cloudlock.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no lease\n", cfg.Label)
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "reading lease %s", cfg.Label)
			}

			printRecord(cmd.OutOrStdout(), rec, time.Now())
			return nil
		},
	}
}

func printRecord(w io.Writer, rec *cloudlock.Record, now time.Time) {
	state := "held"
	if rec.Expired(now) {
		state = "expired"
	}

	fmt.Fprintf(w, "Label:    %s\n", rec.Label)
	fmt.Fprintf(w, "Holder:   %s\n", rec.Holder)
	fmt.Fprintf(w, "State:    %s\n", state)
	fmt.Fprintf(w, "Start:    %s (%s ago)\n", rec.Start.Format(time.RFC3339), cloudlock.FormatDuration(now.Sub(rec.Start)))
	fmt.Fprintf(w, "Expire:   %s (in %s)\n", rec.Expire.Format(time.RFC3339), cloudlock.FormatDuration(rec.Expire.Sub(now)))
	fmt.Fprintf(w, "Version:  %s\n", rec.Version)
}
