// Package natskv implements [cloudlock.Store] on a NATS JetStream key-value bucket.
package natskv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bobg/errors"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/bobg/cloudlock"
)

// Store is a cloudlock.Store backed by a JetStream KV bucket.
// Each label is a key; the bucket's per-key revision guards the compare-and-set.
// Labels must be valid KV keys.
type Store struct {
	kv jetstream.KeyValue
}

var _ cloudlock.Store = &Store{}

// record is the JSON form of a cloudlock.Record in the bucket.
type record struct {
	Holder     string `json:"holder"`
	StartTime  int64  `json:"start_time"`
	ExpireTime int64  `json:"expire_time"`
	Version    string `json:"version"`
}

// New creates the bucket if needed and returns a store using it.
func New(ctx context.Context, js jetstream.JetStream, bucket string) (*Store, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "cloudlock lease records",
		History:     1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating KV bucket %s", bucket)
	}
	return &Store{kv: kv}, nil
}

func (s *Store) Get(ctx context.Context, label string) (*cloudlock.Record, error) {
	rec, _, err := s.get(ctx, label)
	return rec, err
}

func (s *Store) get(ctx context.Context, label string) (*cloudlock.Record, uint64, error) {
	entry, err := s.kv.Get(ctx, label)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, errors.Wrapf(cloudlock.ErrNotFound, "label %s", label)
	}
	if err != nil {
		return nil, 0, errors.Wrapf(err, "reading lease record %s", label)
	}

	var r record
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, 0, errors.Wrapf(err, "decoding lease record %s", label)
	}

	return &cloudlock.Record{
		Label:   label,
		Holder:  r.Holder,
		Start:   time.UnixMilli(r.StartTime),
		Expire:  time.UnixMilli(r.ExpireTime),
		Version: r.Version,
	}, entry.Revision(), nil
}

func (s *Store) Put(ctx context.Context, rec cloudlock.Record, expected string) error {
	data, err := json.Marshal(record{
		Holder:     rec.Holder,
		StartTime:  rec.Start.UnixMilli(),
		ExpireTime: rec.Expire.UnixMilli(),
		Version:    rec.Version,
	})
	if err != nil {
		return errors.Wrap(err, "encoding lease record")
	}

	if expected == cloudlock.MustNotExist {
		_, err := s.kv.Create(ctx, rec.Label, data)
		return s.putErr(err, rec.Label)
	}

	cur, rev, err := s.get(ctx, rec.Label)
	if errors.Is(err, cloudlock.ErrNotFound) {
		return errors.Wrapf(cloudlock.ErrConflict, "label %s does not exist", rec.Label)
	}
	if err != nil {
		return err
	}
	if cur.Version != expected {
		return errors.Wrapf(cloudlock.ErrConflict, "label %s is at another version", rec.Label)
	}

	// A write landing between the Get and this Update bumps the revision and fails it.
	_, err = s.kv.Update(ctx, rec.Label, data, rev)
	return s.putErr(err, rec.Label)
}

func (s *Store) putErr(err error, label string) error {
	if err == nil {
		return nil
	}
	if isWrongRevision(err) {
		return errors.Wrapf(cloudlock.ErrConflict, "label %s: %s", label, err)
	}
	return errors.Wrapf(err, "writing lease record %s", label)
}

func isWrongRevision(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
