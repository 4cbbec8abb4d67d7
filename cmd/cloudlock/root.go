package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/bobg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bobg/cloudlock"
)

type rootFlags struct {
	cfgFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	var (
		flags rootFlags
		v     = newViper()
	)

	root := &cobra.Command{
		Use:   "cloudlock",
		Short: "Run a process on at most one node at a time",
		Long: `cloudlock contends for a lease record in a shared store
(DynamoDB, NATS JetStream KV, or PostgreSQL) and runs the given command
only while this node holds the lease. A standby node takes over
when the active node stops renewing.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return readConfigFile(v, flags.cfgFile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.cfgFile, "config", "", "config file (YAML)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")
	pf.String("label", "", "lease label")
	pf.String("store", "", "lease store kind: dynamodb, nats, or postgres")

	_ = v.BindPFlag("label", pf.Lookup("label"))
	_ = v.BindPFlag("store.kind", pf.Lookup("store"))

	root.AddCommand(
		newRunCmd(v, &flags),
		newStatusCmd(v, &flags),
		newTimeserverCmd(v, &flags),
	)

	return root
}

// newViper returns a viper instance that knows every config key,
// so that each can be set from the environment.
func newViper() *viper.Viper {
	v := viper.New()

	def := cloudlock.DefaultConfig()
	v.SetDefault("label", "")
	v.SetDefault("holder", "")
	v.SetDefault("lease", def.Lease)
	v.SetDefault("renew_period", def.RenewPeriod)
	v.SetDefault("check_period", def.CheckPeriod)
	v.SetDefault("start_gap", def.StartGap)
	v.SetDefault("margin", def.Margin)
	v.SetDefault("stop_timeout", def.StopTimeout)
	v.SetDefault("skew_warn", def.SkewWarn)
	v.SetDefault("skew_fail", def.SkewFail)
	v.SetDefault("command", []string{})
	v.SetDefault("metrics_addr", "")

	for _, key := range []string{
		"store.kind",
		"store.dynamodb.table",
		"store.dynamodb.region",
		"store.dynamodb.access_key_id",
		"store.dynamodb.secret_access_key",
		"store.dynamodb.endpoint",
		"store.nats.url",
		"store.nats.bucket",
		"store.nats.creds",
		"store.postgres.dsn",
		"store.postgres.table",
		"oracle.kind",
		"oracle.addr",
		"oracle.url",
		"oracle.subject",
	} {
		v.SetDefault(key, "")
	}

	v.SetEnvPrefix("CLOUDLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading config file %s", path)
	}
	return nil
}

// loadConfig decodes v into a Config.
// Required settings are not defaulted; see [cloudlock.Config.Validate].
func loadConfig(v *viper.Viper) (cloudlock.Config, error) {
	var cfg cloudlock.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "decoding config")
	}
	return cfg, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
