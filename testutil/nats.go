package testutil

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// NATSServer wraps an embedded NATS server with JetStream enabled.
type NATSServer struct {
	server *server.Server
}

// StartNATS starts an embedded NATS server on a random port.
// It is shut down when the test ends.
func StartNATS(tb testing.TB) *NATSServer {
	tb.Helper()

	opts := &server.Options{
		Host:               "127.0.0.1",
		Port:               -1,
		NoLog:              true,
		NoSigs:             true,
		JetStream:          true,
		StoreDir:           tb.TempDir(),
		JetStreamMaxMemory: 64 * 1024 * 1024,
		JetStreamMaxStore:  256 * 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		tb.Fatalf("failed to create NATS server: %v", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		tb.Fatal("NATS server not ready")
	}

	tb.Cleanup(ns.Shutdown)

	return &NATSServer{server: ns}
}

// URL returns the client URL of the server.
func (n *NATSServer) URL() string {
	return n.server.ClientURL()
}

// Connect creates a connection to the server that is closed when the test ends.
func (n *NATSServer) Connect(tb testing.TB) *nats.Conn {
	tb.Helper()

	nc, err := nats.Connect(n.URL())
	if err != nil {
		tb.Fatalf("failed to connect to NATS: %v", err)
	}

	tb.Cleanup(nc.Close)

	return nc
}
