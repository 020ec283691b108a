// Package session implements the per-connection client state machine and
// the client registry that owns every Client for the server's lifetime.
package session

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// State is a client's position in the connect handshake state machine.
type State int32

const (
	Unconnected State = iota
	Connected
)

// Client is a single TCP peer. The registry holds the sole strong reference;
// channels reference a client only by id and resolve it through the
// registry at use time, so a dead socket is never kept alive by channel
// membership.
//
// Per-connection serialization: each connection has one read loop, so at
// most one dispatcher handler runs for a given client at a time. The
// joined-channel set is still guarded by joinedMu, because other clients'
// handlers remove entries from it when a channel is destroyed or the client
// is kicked; the send path and the bad-socket flag are also reached from
// other goroutines (broadcast drains).
type Client struct {
	ID   uint32
	conn net.Conn

	state       atomic.Int32 // State
	displayName atomic.Value // string

	joinedMu sync.Mutex
	joined   map[uint32]struct{}

	closeOnce sync.Once
	bad       atomic.Bool // set when a write fails; reaped on next readiness event

	logger zerolog.Logger
}

// New creates a Client in the Unconnected state for an accepted connection.
func New(id uint32, conn net.Conn, logger zerolog.Logger) *Client {
	c := &Client{
		ID:     id,
		conn:   conn,
		joined: make(map[uint32]struct{}),
		logger: logger.With().Uint32("client_id", id).Logger(),
	}
	c.state.Store(int32(Unconnected))
	c.displayName.Store("")
	return c
}

// Conn returns the underlying connection, for the read loop.
func (c *Client) Conn() net.Conn { return c.conn }

// State returns the client's current connect state.
func (c *Client) State() State { return State(c.state.Load()) }

// SetConnected finalizes the client's display name and transitions it to
// Connected. Called exactly once, from the SVR_CONNECT handler.
func (c *Client) SetConnected(displayName string) {
	c.displayName.Store(displayName)
	c.state.Store(int32(Connected))
}

// DisplayName returns the client's display name, or "" before SVR_CONNECT.
func (c *Client) DisplayName() string {
	return c.displayName.Load().(string)
}

// Join records that the client has joined channelID. The dispatcher calls
// this after a successful enter, and the channel registry calls it for a
// channel's creator.
func (c *Client) Join(channelID uint32) {
	c.joinedMu.Lock()
	defer c.joinedMu.Unlock()
	c.joined[channelID] = struct{}{}
}

// Leave removes channelID from the client's joined set. The dispatcher calls
// this on every leave/kick, regardless of whether the channel survives.
func (c *Client) Leave(channelID uint32) {
	c.joinedMu.Lock()
	defer c.joinedMu.Unlock()
	delete(c.joined, channelID)
}

// IsMember reports whether the client has joined channelID.
func (c *Client) IsMember(channelID uint32) bool {
	c.joinedMu.Lock()
	defer c.joinedMu.Unlock()
	_, ok := c.joined[channelID]
	return ok
}

// JoinedChannels returns a snapshot of the client's joined-channel ids. Used
// by the disconnect path to transitively purge the client from every
// channel without holding joinedMu across that work.
func (c *Client) JoinedChannels() []uint32 {
	c.joinedMu.Lock()
	defer c.joinedMu.Unlock()
	ids := make([]uint32, 0, len(c.joined))
	for id := range c.joined {
		ids = append(ids, id)
	}
	return ids
}

// Send is best-effort: a write failure never fails the caller. It marks the
// socket bad so the read loop reaps the client the next time it tries to
// read from it.
func (c *Client) Send(frame []byte) {
	if c.bad.Load() {
		return
	}
	if _, err := c.conn.Write(frame); err != nil {
		c.bad.Store(true)
		c.logger.Debug().Err(err).Msg("send failed, marking client bad")
	}
}

// Bad reports whether a previous Send failed.
func (c *Client) Bad() bool { return c.bad.Load() }

// Close closes the underlying socket exactly once, regardless of how many
// times it is called.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
