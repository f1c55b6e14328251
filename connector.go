package docqueue

import (
	"fmt"
	"strings"
)

// ConnectionResolver looks up a store connection by name.
type ConnectionResolver interface {
	Connection(name string) (Database, error)
}

// Connections is a fixed name-to-database ConnectionResolver.
type Connections map[string]Database

func (c Connections) Connection(name string) (Database, error) {
	db, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, name)
	}
	return db, nil
}

// Connector builds Clients from configuration.
type Connector struct {
	connections ConnectionResolver
	opts        []Option
}

// NewConnector returns a Connector that resolves store handles through
// connections. opts are passed to every Client it builds.
func NewConnector(connections ConnectionResolver, opts ...Option) *Connector {
	return &Connector{connections: connections, opts: opts}
}

// Connect resolves config.Connection and returns a Client bound to
// config.Collection and config.Queue. A zero Lease becomes DefaultLease; pass
// a negative Lease to turn the sweep off.
func (c *Connector) Connect(config Config) (*Client, error) {
	if strings.TrimSpace(config.Collection) == "" {
		return nil, ErrEmptyCollection
	}
	if config.Lease == 0 {
		config.Lease = DefaultLease
	}
	db, err := c.connections.Connection(config.Connection)
	if err != nil {
		return nil, err
	}
	return New(db.Collection(config.Collection), config, c.opts...), nil
}
