package main

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/bobg/errors"
	"github.com/bobg/retry"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/bobg/cloudlock"
	"github.com/bobg/cloudlock/dynamo"
	"github.com/bobg/cloudlock/natskv"
	"github.com/bobg/cloudlock/pg"
	"github.com/bobg/cloudlock/timeoracle"
)

// Startup connections are retried this many times, this far apart.
const (
	connectTries = 5
	connectDelay = 2 * time.Second
)

// connect runs f until it succeeds, the context is canceled,
// or connectTries attempts have failed.
func connect(ctx context.Context, logger *slog.Logger, what string, f func() error) error {
	tr := retry.Tryer{
		Max:         connectTries,
		Delay:       connectDelay,
		Jitter:      connectDelay / 4,
		IsRetryable: func(error) bool { return ctx.Err() == nil },
		After:       time.After,
	}

	err := tr.Try(ctx, func(n int) error {
		err := f()
		if err != nil {
			logger.Warn("connecting", "to", what, "attempt", n+1, "error", err)
		}
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", what)
	}
	return nil
}

// openStore connects to the store cfg selects.
// The returned function releases its connections.
func openStore(ctx context.Context, cfg cloudlock.StoreConfig, logger *slog.Logger) (cloudlock.Store, func(), error) {
	switch cfg.Kind {
	case cloudlock.StoreDynamoDB:
		d := cfg.DynamoDB
		client, err := dynamo.NewClient(ctx, dynamo.ClientOptions{
			Region:          d.Region,
			AccessKeyID:     d.AccessKeyID,
			SecretAccessKey: d.SecretAccessKey,
			Endpoint:        d.Endpoint,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "creating DynamoDB client")
		}
		return dynamo.New(client, d.Table), func() {}, nil

	case cloudlock.StoreNATS:
		nc, err := dialNATS(ctx, logger, cfg.NATS.URL, cfg.NATS.Creds)
		if err != nil {
			return nil, nil, err
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, errors.Wrap(err, "creating JetStream context")
		}
		store, err := natskv.New(ctx, js, cfg.NATS.Bucket)
		if err != nil {
			nc.Close()
			return nil, nil, errors.Wrapf(err, "opening bucket %s", cfg.NATS.Bucket)
		}
		return store, nc.Close, nil

	case cloudlock.StorePostgres:
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening database")
		}
		if err := connect(ctx, logger, "postgres", func() error { return db.PingContext(ctx) }); err != nil {
			db.Close()
			return nil, nil, err
		}
		store, err := pg.New(ctx, db, cfg.Postgres.Table)
		if err != nil {
			db.Close()
			return nil, nil, errors.Wrapf(err, "preparing table %s", cfg.Postgres.Table)
		}
		return store, func() { db.Close() }, nil

	default:
		return nil, nil, errors.Newf("unknown store kind %q", cfg.Kind)
	}
}

// openOracle connects to the time oracle cfg selects
// and checks that it answers.
func openOracle(ctx context.Context, cfg cloudlock.OracleConfig, logger *slog.Logger) (cloudlock.Oracle, func(), error) {
	var (
		oracle  cloudlock.Oracle
		closeFn = func() {}
	)

	switch cfg.Kind {
	case cloudlock.OracleTCP:
		oracle = &timeoracle.TCPClient{Addr: cfg.Addr}

	case cloudlock.OracleNATS:
		nc, err := dialNATS(ctx, logger, cfg.URL, "")
		if err != nil {
			return nil, nil, err
		}
		oracle = &timeoracle.NATSClient{Conn: nc, Subject: cfg.Subject}
		closeFn = nc.Close

	default:
		return nil, nil, errors.Newf("unknown oracle kind %q", cfg.Kind)
	}

	err := connect(ctx, logger, "time oracle", func() error {
		_, err := oracle.Now(ctx)
		return err
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	return oracle, closeFn, nil
}

func dialNATS(ctx context.Context, logger *slog.Logger, url, creds string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("cloudlock"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if creds != "" {
		opts = append(opts, nats.UserCredentials(creds))
	}

	var nc *nats.Conn
	err := connect(ctx, logger, url, func() error {
		var err error
		nc, err = nats.Connect(url, opts...)
		return err
	})
	return nc, err
}
