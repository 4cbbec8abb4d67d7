package cloudlock_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bobg/cloudlock"
)

func validConfig() cloudlock.Config {
	cfg := cloudlock.DefaultConfig()
	cfg.Label = "validator"
	cfg.Holder = "node-a"
	cfg.Command = []string{"validator", "--network=mainnet"}
	cfg.Store.Kind = cloudlock.StorePostgres
	cfg.Store.Postgres.DSN = "postgres://localhost/cloudlock"
	cfg.Store.Postgres.Table = "leases"
	cfg.Oracle.Kind = cloudlock.OracleTCP
	cfg.Oracle.Addr = "time.internal:3737"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		modify func(*cloudlock.Config)
		want   []string
	}{
		{
			name:   "empty",
			modify: func(c *cloudlock.Config) { *c = cloudlock.Config{} },
			want:   []string{"label is required", "holder is required", "command is required", "lease must be positive", "store.kind is required", "oracle.kind is required"},
		},
		{
			name:   "renew_too_slow",
			modify: func(c *cloudlock.Config) { c.RenewPeriod = c.Lease },
			want:   []string{"renew_period must be shorter than lease"},
		},
		{
			name:   "margin_too_wide",
			modify: func(c *cloudlock.Config) { c.Margin = 40 * time.Minute },
			want:   []string{"margin must be shorter than lease"},
		},
		{
			name:   "skew_thresholds",
			modify: func(c *cloudlock.Config) { c.SkewWarn = c.SkewFail },
			want:   []string{"skew_warn must be less than skew_fail"},
		},
		{
			name:   "negative_gap",
			modify: func(c *cloudlock.Config) { c.StartGap = -time.Second },
			want:   []string{"start_gap must not be negative"},
		},
		{
			name: "dynamodb",
			modify: func(c *cloudlock.Config) {
				c.Store.Kind = cloudlock.StoreDynamoDB
				c.Store.DynamoDB.Table = "leases"
			},
			want: []string{"store.dynamodb.region is required", "store.dynamodb.access_key_id is required", "store.dynamodb.secret_access_key is required"},
		},
		{
			name:   "unknown_store",
			modify: func(c *cloudlock.Config) { c.Store.Kind = "etcd" },
			want:   []string{`unknown store.kind "etcd"`},
		},
		{
			name: "nats_oracle",
			modify: func(c *cloudlock.Config) {
				c.Oracle.Kind = cloudlock.OracleNATS
				c.Oracle.URL = "nats://localhost:4222"
			},
			want: []string{"oracle.subject is required"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := validConfig()
			c.modify(&cfg)

			err := cfg.Validate()
			if !errors.Is(err, cloudlock.ErrInvalidConfig) {
				t.Fatalf("got %v, want ErrInvalidConfig", err)
			}
			for _, want := range c.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}
