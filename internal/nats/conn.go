// Package nats implements the delivery queue and lifecycle events on NATS
// JetStream.
package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Conn bundles a NATS connection with its JetStream context.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials NATS with unlimited reconnects.
func Connect(natsURL string) (*Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("job-scheduler"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	return &Conn{nc: nc, js: js}, nil
}

// NATS returns the core connection.
func (c *Conn) NATS() *nats.Conn {
	return c.nc
}

// JetStream returns the JetStream context.
func (c *Conn) JetStream() jetstream.JetStream {
	return c.js
}

// Healthy reports whether the connection is up.
func (c *Conn) Healthy() bool {
	return c.nc.IsConnected()
}

// Close drains nothing and closes the connection.
func (c *Conn) Close() {
	c.nc.Close()
}
