package testutil

import (
	"context"
	"testing"

	"github.com/bobg/cloudlock"
	"github.com/bobg/cloudlock/mem"
)

// These tests already appear elsewhere in this library.
// Duplicating them here solves a problem in how test coverage is measured.

func factory() (cloudlock.Store, error) {
	return mem.New(), nil
}

func TestStore(t *testing.T) {
	Store(context.Background(), t, factory)
}

func TestRenewer(t *testing.T) {
	Renewer(context.Background(), t, factory)
}
