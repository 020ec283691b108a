package channel

import (
	"chatrelay/internal/metrics"
	"chatrelay/internal/protocol"
)

// queuedFrame pairs an encoded frame with the recipient snapshot taken at
// the moment it was enqueued (under the channel lock), so that a broadcast
// always reaches exactly the membership that existed when the triggering
// event happened, including the channel-destruction case, where the
// roster is cleared before the drain task ever runs.
type queuedFrame struct {
	frame      []byte
	recipients []uint32
}

// enqueueBroadcast pushes an encoded frame (id=-1, since broadcasts are not
// responses to any particular request) onto the channel's FIFO along with
// its recipient snapshot, and on the empty->non-empty transition submits a
// single drain task to the shared worker pool: one drain task per channel
// at a time, not one dedicated thread per channel.
func (c *Channel) enqueueBroadcast(typ protocol.FrameType, payload []byte, recipients []uint32) {
	frame := protocol.Encode(protocol.IDProtocolError, typ, payload)

	c.queueMu.Lock()
	c.queue = append(c.queue, queuedFrame{frame: frame, recipients: recipients})
	shouldSubmit := c.draining.CompareAndSwap(false, true)
	c.queueMu.Unlock()

	if shouldSubmit && !c.pool.Submit(c.drain) {
		// The drain task itself never made it into the worker pool's queue:
		// the frame we just enqueued is still sitting in c.queue, not lost,
		// but nothing will ever drain it unless we clear the flag ourselves.
		// Clearing it lets the next enqueueBroadcast (by this channel or any
		// other event) win the CAS and submit a fresh drain task.
		metrics.BroadcastsDropped.Inc()
		c.draining.Store(false)
	}
}

// drain empties the broadcast queue, one frame at a time, sending each to
// its own recipient snapshot outside any lock: the drain task holds no
// lock while sending, so a slow or large fan-out never blocks roster
// mutations.
func (c *Channel) drain() {
	for {
		c.queueMu.Lock()
		if len(c.queue) == 0 {
			c.draining.Store(false)
			c.queueMu.Unlock()
			return
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.queueMu.Unlock()

		for _, id := range next.recipients {
			if client, ok := c.resolver.Find(id); ok {
				client.Send(next.frame)
			}
		}
	}
}
