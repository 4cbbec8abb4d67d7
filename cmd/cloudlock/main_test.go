package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobg/errors"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobg/cloudlock"
	"github.com/bobg/cloudlock/natskv"
	"github.com/bobg/cloudlock/testutil"
)

const configYAML = `
label: validator
holder: node-a
lease: 45m
command: [validator, --network=mainnet]
store:
  kind: postgres
  postgres:
    dsn: postgres://localhost/cloudlock
    table: leases
oracle:
  kind: tcp
  addr: time.internal:3737
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloudlock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	t.Setenv("CLOUDLOCK_STORE_POSTGRES_TABLE", "fleet_leases")
	t.Setenv("CLOUDLOCK_SKEW_WARN", "15s")

	v := newViper()
	require.NoError(t, readConfigFile(v, path))

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "validator", cfg.Label)
	assert.Equal(t, "node-a", cfg.Holder)
	assert.Equal(t, []string{"validator", "--network=mainnet"}, cfg.Command)
	assert.Equal(t, 45*time.Minute, cfg.Lease)
	assert.Equal(t, 5*time.Minute, cfg.RenewPeriod, "default renew period")
	assert.Equal(t, 15*time.Second, cfg.SkewWarn, "from the environment")
	assert.Equal(t, cloudlock.StorePostgres, cfg.Store.Kind)
	assert.Equal(t, "fleet_leases", cfg.Store.Postgres.Table, "from the environment")
	assert.Equal(t, "time.internal:3737", cfg.Oracle.Addr)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(newViper())
	require.NoError(t, err)

	assert.Equal(t, cloudlock.DefaultConfig().Lease, cfg.Lease)
	assert.Equal(t, cloudlock.DefaultConfig().StartGap, cfg.StartGap)
	assert.Empty(t, cfg.Holder)
	assert.ErrorIs(t, cfg.Validate(), cloudlock.ErrInvalidConfig)
}

func TestReadConfigFileMissing(t *testing.T) {
	err := readConfigFile(newViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestOpenUnknownKinds(t *testing.T) {
	ctx := context.Background()
	logger := newLogger(false)

	_, _, err := openStore(ctx, cloudlock.StoreConfig{Kind: "etcd"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store kind "etcd"`)
	assert.NotEmpty(t, errors.Stack(err))

	_, _, err = openOracle(ctx, cloudlock.OracleConfig{Kind: "ntp"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown oracle kind "ntp"`)
	assert.NotEmpty(t, errors.Stack(err))
}

func TestStatus(t *testing.T) {
	ctx := context.Background()

	ns := testutil.StartNATS(t)
	js, err := jetstream.New(ns.Connect(t))
	require.NoError(t, err)

	store, err := natskv.New(ctx, js, "cloudlock_status")
	require.NoError(t, err)

	t.Setenv("CLOUDLOCK_STORE_NATS_URL", ns.URL())
	t.Setenv("CLOUDLOCK_STORE_NATS_BUCKET", "cloudlock_status")

	status := func() string {
		var out bytes.Buffer
		root := newRootCmd()
		root.SetOut(&out)
		root.SetArgs([]string{"status", "--store", "nats", "--label", "validator"})
		require.NoError(t, root.ExecuteContext(ctx))
		return out.String()
	}

	assert.Equal(t, "validator: no lease\n", status())

	now := time.Now()
	require.NoError(t, store.Put(ctx, cloudlock.Record{
		Label:   "validator",
		Holder:  "node-a",
		Start:   now.Add(-time.Hour),
		Expire:  now.Add(30 * time.Minute),
		Version: "v1",
	}, cloudlock.MustNotExist))

	out := status()
	assert.Contains(t, out, "Holder:   node-a\n")
	assert.Contains(t, out, "State:    held\n")
	assert.Contains(t, out, "Version:  v1\n")
}

func TestPrintRecord(t *testing.T) {
	t0 := time.Date(1977, 8, 5, 0, 0, 0, 0, time.UTC)
	rec := &cloudlock.Record{
		Label:   "validator",
		Holder:  "node-b",
		Start:   t0,
		Expire:  t0.Add(30 * time.Minute),
		Version: "abc",
	}

	var out bytes.Buffer
	printRecord(&out, rec, t0.Add(time.Hour))

	want := `Label:    validator
Holder:   node-b
State:    expired
Start:    1977-08-05T00:00:00Z (01h00m00s ago)
Expire:   1977-08-05T00:30:00Z (in -30m00s)
Version:  abc
`
	assert.Equal(t, want, out.String())
}
