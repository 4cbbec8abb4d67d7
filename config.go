package cloudlock

import (
	"fmt"
	"strings"
	"time"

	"github.com/bobg/errors"
)

// Config holds everything a [Node] and its collaborators need.
type Config struct {
	Label  string `mapstructure:"label"`  // lease record to contend for
	Holder string `mapstructure:"holder"` // this node's identity

	Lease       time.Duration `mapstructure:"lease"`
	RenewPeriod time.Duration `mapstructure:"renew_period"`
	CheckPeriod time.Duration `mapstructure:"check_period"`
	StartGap    time.Duration `mapstructure:"start_gap"`
	Margin      time.Duration `mapstructure:"margin"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	SkewWarn    time.Duration `mapstructure:"skew_warn"`
	SkewFail    time.Duration `mapstructure:"skew_fail"`

	Command []string `mapstructure:"command"`

	Store  StoreConfig  `mapstructure:"store"`
	Oracle OracleConfig `mapstructure:"oracle"`

	MetricsAddr string `mapstructure:"metrics_addr"`
}

// StoreConfig selects and configures the lease record store.
type StoreConfig struct {
	Kind string `mapstructure:"kind"` // "dynamodb", "nats", or "postgres"

	DynamoDB struct {
		Table           string `mapstructure:"table"`
		Region          string `mapstructure:"region"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		Endpoint        string `mapstructure:"endpoint"`
	} `mapstructure:"dynamodb"`

	NATS struct {
		URL    string `mapstructure:"url"`
		Bucket string `mapstructure:"bucket"`
		Creds  string `mapstructure:"creds"`
	} `mapstructure:"nats"`

	Postgres struct {
		DSN   string `mapstructure:"dsn"`
		Table string `mapstructure:"table"`
	} `mapstructure:"postgres"`
}

// OracleConfig selects and configures the time oracle.
type OracleConfig struct {
	Kind    string `mapstructure:"kind"`    // "tcp" or "nats"
	Addr    string `mapstructure:"addr"`    // host:port for "tcp"
	URL     string `mapstructure:"url"`     // server URL for "nats"
	Subject string `mapstructure:"subject"` // request subject for "nats"
}

// Store and oracle kinds.
const (
	StoreDynamoDB = "dynamodb"
	StoreNATS     = "nats"
	StorePostgres = "postgres"

	OracleTCP  = "tcp"
	OracleNATS = "nats"
)

// DefaultConfig returns a Config with the timing defaults filled in.
// Identity, command, store, and oracle settings have no defaults.
func DefaultConfig() Config {
	return Config{
		Lease:       30 * time.Minute,
		RenewPeriod: 5 * time.Minute,
		CheckPeriod: 20 * time.Second,
		StartGap:    25 * time.Minute,
		Margin:      10 * time.Minute,
		StopTimeout: 30 * time.Second,
		SkewWarn:    20 * time.Second,
		SkewFail:    40 * time.Second,
	}
}

// ErrInvalidConfig is wrapped by the error from [Config.Validate].
var ErrInvalidConfig = errors.New("invalid config")

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var problems []string

	require := func(name, val string) {
		if val == "" {
			problems = append(problems, name+" is required")
		}
	}
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}

	require("label", c.Label)
	require("holder", c.Holder)
	if len(c.Command) == 0 {
		problems = append(problems, "command is required")
	}

	positive("lease", c.Lease)
	positive("renew_period", c.RenewPeriod)
	positive("check_period", c.CheckPeriod)
	positive("stop_timeout", c.StopTimeout)
	positive("skew_warn", c.SkewWarn)
	positive("skew_fail", c.SkewFail)
	if c.StartGap < 0 {
		problems = append(problems, "start_gap must not be negative")
	}
	if c.Margin < 0 {
		problems = append(problems, "margin must not be negative")
	}
	if c.RenewPeriod >= c.Lease {
		problems = append(problems, "renew_period must be shorter than lease")
	}
	if c.Margin >= c.Lease {
		problems = append(problems, "margin must be shorter than lease")
	}
	if c.SkewWarn >= c.SkewFail {
		problems = append(problems, "skew_warn must be less than skew_fail")
	}

	switch c.Store.Kind {
	case StoreDynamoDB:
		d := c.Store.DynamoDB
		require("store.dynamodb.table", d.Table)
		require("store.dynamodb.region", d.Region)
		require("store.dynamodb.access_key_id", d.AccessKeyID)
		require("store.dynamodb.secret_access_key", d.SecretAccessKey)
	case StoreNATS:
		require("store.nats.url", c.Store.NATS.URL)
		require("store.nats.bucket", c.Store.NATS.Bucket)
	case StorePostgres:
		require("store.postgres.dsn", c.Store.Postgres.DSN)
		require("store.postgres.table", c.Store.Postgres.Table)
	case "":
		problems = append(problems, "store.kind is required")
	default:
		problems = append(problems, fmt.Sprintf("unknown store.kind %q", c.Store.Kind))
	}

	switch c.Oracle.Kind {
	case OracleTCP:
		require("oracle.addr", c.Oracle.Addr)
	case OracleNATS:
		require("oracle.url", c.Oracle.URL)
		require("oracle.subject", c.Oracle.Subject)
	case "":
		problems = append(problems, "oracle.kind is required")
	default:
		problems = append(problems, fmt.Sprintf("unknown oracle.kind %q", c.Oracle.Kind))
	}

	if len(problems) > 0 {
		return errors.Wrap(ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
