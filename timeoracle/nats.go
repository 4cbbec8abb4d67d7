package timeoracle

import (
	"context"
	"time"

	"github.com/bobg/errors"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/bobg/cloudlock"
)

// ServeNATS registers a micro service on nc that replies to requests on subject with the current time.
// Stop the returned service to unregister it.
func ServeNATS(nc *nats.Conn, subject string, clock cloudlock.Clock) (micro.Service, error) {
	if clock == nil {
		clock = cloudlock.DefaultClock{}
	}

	srv, err := micro.AddService(nc, micro.Config{
		Name:        "cloudlock-time",
		Version:     "1.0.0",
		Description: "Wall-clock reference for cloudlock nodes",
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating time service")
	}

	handler := func(req micro.Request) {
		_ = req.Respond(formatMillis(clock.Now()))
	}
	if err := srv.AddEndpoint("now", micro.HandlerFunc(handler), micro.WithEndpointSubject(subject)); err != nil {
		srv.Stop()
		return nil, errors.Wrapf(err, "adding endpoint %s", subject)
	}

	return srv, nil
}

// NATSClient queries a time service registered with [ServeNATS].
type NATSClient struct {
	Conn    *nats.Conn
	Subject string
	Timeout time.Duration // zero means 5s
}

var _ cloudlock.Oracle = &NATSClient{}

func (c *NATSClient) Now(ctx context.Context) (time.Time, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := c.Conn.RequestWithContext(ctx, c.Subject, nil)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "requesting %s", c.Subject)
	}

	return parseMillis(string(msg.Data))
}
