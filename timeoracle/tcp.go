// Package timeoracle provides independent wall-clock references for [cloudlock.SkewGuard].
//
// The TCP protocol is a single line:
// the server writes the current time in epoch milliseconds followed by a newline and closes the connection.
// The NATS variant replies to a request with the same decimal string.
package timeoracle

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bobg/errors"

	"github.com/bobg/cloudlock"
)

// ErrMalformed is wrapped by errors for oracle replies that are not epoch milliseconds.
var ErrMalformed = errors.New("malformed time oracle reply")

// TCPClient queries a TCP time oracle.
type TCPClient struct {
	Addr    string
	Timeout time.Duration // bounds the whole exchange; zero means 5s
}

var _ cloudlock.Oracle = &TCPClient{}

func (c *TCPClient) Now(ctx context.Context) (time.Time, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "dialing %s", c.Addr)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return time.Time{}, errors.Wrap(err, "setting deadline")
		}
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "reading from %s", c.Addr)
	}

	return parseMillis(line)
}

// Server answers every TCP connection with the current time.
type Server struct {
	Clock  cloudlock.Clock
	Logger *slog.Logger
}

// Serve accepts connections on ln until the context is canceled.
// It closes ln before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	clock := s.Clock
	if clock == nil {
		clock = cloudlock.DefaultClock{}
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "accepting connection")
		}

		go func() {
			defer conn.Close()

			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if _, err := conn.Write(append(formatMillis(clock.Now()), '\n')); err != nil {
				logger.Debug("writing time", "remote", conn.RemoteAddr(), "error", err)
			}
		}()
	}
}

func formatMillis(t time.Time) []byte {
	return strconv.AppendInt(nil, t.UnixMilli(), 10)
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrMalformed, "%q", s)
	}
	return time.UnixMilli(ms), nil
}
