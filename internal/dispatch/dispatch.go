// Package dispatch routes one parsed frame to a session or channel
// operation and turns the result into a response frame. It is the single
// place that maps a handler's error into the wire error id; no error
// crosses from a handler straight to the wire without going through here.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"chatrelay/internal/audit"
	"chatrelay/internal/channel"
	"chatrelay/internal/protocol"
	"chatrelay/internal/session"
)

// handlerFunc implements one connected-state frame type. It returns the
// response payload on success, or an error from protocol's typed
// vocabulary (wrapped by channel/session as appropriate).
type handlerFunc func(d *Dispatcher, client *session.Client, frame protocol.Frame) ([]byte, error)

// Dispatcher owns the client and channel registries and routes frames to
// their handlers. One Dispatcher is shared by every connection.
type Dispatcher struct {
	Clients  *session.Registry
	Channels *channel.Registry
	Audit    audit.Sink
	Logger   zerolog.Logger

	table map[protocol.FrameType]handlerFunc
}

// New builds a Dispatcher with the fixed frame-type dispatch table, built
// once as a map rather than a long switch (see DESIGN.md).
func New(clients *session.Registry, channels *channel.Registry, auditSink audit.Sink, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{Clients: clients, Channels: channels, Audit: auditSink, Logger: logger}
	d.table = map[protocol.FrameType]handlerFunc{
		protocol.ChConnect:    handleChConnect,
		protocol.ChDisconnect: handleChDisconnect,
		protocol.ChMessage:    handleChMessage,
		protocol.ChCommand:    handleChCommand,
	}
	return d
}

// Result is what Handle returns: either a response frame to write back, or
// a signal that the connection must be torn down.
type Result struct {
	Response protocol.Frame
	HasReply bool
	Fatal    bool
}

// Handle processes exactly one frame for one client. It does not read or
// write the socket itself; the server package owns I/O and calls Handle
// inline from the connection's own read loop.
func (d *Dispatcher) Handle(client *session.Client, frame protocol.Frame) Result {
	if client.State() == session.Unconnected {
		return d.handleUnconnected(client, frame)
	}

	if frame.Type == protocol.SvrDisconnect {
		return Result{Fatal: true}
	}

	handler, ok := d.table[frame.Type]
	if !ok {
		return d.errorResult(frame, fmt.Errorf("%w: unexpected frame type %s", protocol.ErrProtocol, frame.Type))
	}

	payload, err := handler(d, client, frame)
	if err != nil {
		if protocol.IsFatal(err) {
			return Result{Fatal: true}
		}
		return d.errorResult(frame, err)
	}

	return Result{
		Response: protocol.Frame{ID: frame.ID, Type: frame.Type, Payload: payload},
		HasReply: true,
	}
}

// handleUnconnected applies the connect-handshake rules: any frame other
// than SVR_CONNECT is rejected; SVR_CONNECT finalizes the client. Capacity
// is not checked here: the server already rejected the connection at accept
// time if the client registry was full.
func (d *Dispatcher) handleUnconnected(client *session.Client, frame protocol.Frame) Result {
	if frame.Type != protocol.SvrConnect {
		return Result{
			Response: protocol.Frame{ID: protocol.IDProtocolError, Type: protocol.SvrConnect, Payload: nil},
			HasReply: true,
		}
	}

	nick := string(frame.Payload)
	displayName := fmt.Sprintf("%s@%d", nick, client.ID)
	client.SetConnected(displayName)

	return Result{
		Response: protocol.Frame{ID: frame.ID, Type: protocol.SvrConnect, Payload: []byte(displayName)},
		HasReply: true,
	}
}

// errorResult maps a handler error to its wire response id, preserving the
// request's frame type.
func (d *Dispatcher) errorResult(frame protocol.Frame, err error) Result {
	id, ok := protocol.ResponseID(err)
	if !ok {
		// Unclassified handler error: treat as a protocol error rather than
		// silently dropping the response.
		id = protocol.IDProtocolError
	}
	d.Logger.Debug().
		Err(err).
		Str("frame_type", frame.Type.String()).
		Msg("handler returned error")
	return Result{
		Response: protocol.Frame{ID: id, Type: frame.Type, Payload: nil},
		HasReply: true,
	}
}

func handleChConnect(d *Dispatcher, client *session.Client, frame protocol.Frame) ([]byte, error) {
	req, err := protocol.DecodeChConnectRequest(frame.Payload)
	if err != nil {
		return nil, err
	}

	ch, found := d.Channels.Find(req.ChannelID)
	if !found {
		if !req.Create {
			return nil, protocol.ErrNotFound
		}
		ch, err = d.Channels.Create(client)
		if err != nil {
			return nil, err
		}
		return protocol.EncodeChannelInfo(ch.Info()), nil
	}

	if err := ch.Enter(client.ID); err != nil {
		return nil, err
	}
	client.Join(ch.ID)
	return protocol.EncodeChannelInfo(ch.Info()), nil
}

func handleChDisconnect(d *Dispatcher, client *session.Client, frame protocol.Frame) ([]byte, error) {
	channelID, err := protocol.DecodeChDisconnect(frame.Payload)
	if err != nil {
		return nil, err
	}
	ch, found := d.Channels.Find(channelID)
	if !found {
		return nil, protocol.ErrNotFound
	}

	result, purged, err := ch.Leave(client.ID)
	if err != nil {
		return nil, err
	}
	client.Leave(channelID)

	if result == channel.Destroyed {
		for _, id := range purged {
			if other, ok := d.Clients.Find(id); ok {
				other.Leave(channelID)
			}
		}
		d.Channels.Drop(channelID)
		d.Audit.Publish(audit.Event{Kind: audit.EventChannelDestroyed, ChannelID: channelID, ActorID: client.ID})
	}

	return protocol.EncodeChDisconnect(channelID), nil
}

func handleChMessage(d *Dispatcher, client *session.Client, frame protocol.Frame) ([]byte, error) {
	req, err := protocol.DecodeChMessageRequest(frame.Payload)
	if err != nil {
		return nil, err
	}
	ch, found := d.Channels.Find(req.ChannelID)
	if !found || !ch.IsMember(client.ID) {
		return nil, protocol.ErrNotFound
	}
	ch.SendMessage(client.ID, req.Text)
	return protocol.EncodeChMessageRequest(req), nil
}

func handleChCommand(d *Dispatcher, client *session.Client, frame protocol.Frame) ([]byte, error) {
	req, err := protocol.DecodeChCommandRequest(frame.Payload)
	if err != nil {
		return nil, err
	}
	ch, found := d.Channels.Find(req.ChannelID)
	if !found || !ch.IsMember(client.ID) {
		return nil, protocol.ErrNotFound
	}

	if err := runCommand(d, ch, client, req); err != nil {
		return nil, err
	}
	return protocol.EncodeChCommandRequest(req), nil
}

func runCommand(d *Dispatcher, ch *channel.Channel, client *session.Client, req protocol.ChCommandRequest) error {
	switch req.Cmd {
	case protocol.CmdRename:
		if err := ch.Rename(client.ID, string(req.Arg)); err != nil {
			return err
		}
		d.Audit.Publish(audit.Event{Kind: audit.EventRename, ChannelID: ch.ID, ActorID: client.ID})
		return nil

	case protocol.CmdPin:
		if err := ch.PinMessage(client.ID, string(req.Arg)); err != nil {
			return err
		}
		d.Audit.Publish(audit.Event{Kind: audit.EventPin, ChannelID: ch.ID, ActorID: client.ID})
		return nil

	case protocol.CmdPromoteModerator:
		target, err := protocol.ArgAsUint32(req.Arg)
		if err != nil {
			return err
		}
		if err := ch.PromoteMember(client.ID, target); err != nil {
			return err
		}
		d.Audit.Publish(audit.Event{Kind: audit.EventPromote, ChannelID: ch.ID, ActorID: client.ID, TargetID: target})
		return nil

	case protocol.CmdPromoteEmperor:
		target, err := protocol.ArgAsUint32(req.Arg)
		if err != nil {
			return err
		}
		if err := ch.PromoteModerator(client.ID, target); err != nil {
			return err
		}
		d.Audit.Publish(audit.Event{Kind: audit.EventPromote, ChannelID: ch.ID, ActorID: client.ID, TargetID: target})
		return nil

	case protocol.CmdKick:
		target, err := protocol.ArgAsUint32(req.Arg)
		if err != nil {
			return err
		}
		result, purged, err := ch.Kick(client.ID, target)
		if err != nil {
			return err
		}
		if other, ok := d.Clients.Find(target); ok {
			other.Leave(ch.ID)
		}
		if result == channel.Destroyed {
			for _, id := range purged {
				if c, ok := d.Clients.Find(id); ok {
					c.Leave(ch.ID)
				}
			}
			d.Channels.Drop(ch.ID)
			d.Audit.Publish(audit.Event{Kind: audit.EventChannelDestroyed, ChannelID: ch.ID, ActorID: client.ID})
		}
		d.Audit.Publish(audit.Event{Kind: audit.EventKick, ChannelID: ch.ID, ActorID: client.ID, TargetID: target})
		return nil

	case protocol.CmdInvite:
		target, err := protocol.ArgAsUint32(req.Arg)
		if err != nil {
			return err
		}
		if err := ch.Invite(client.ID, target); err != nil {
			return err
		}
		d.Audit.Publish(audit.Event{Kind: audit.EventInvite, ChannelID: ch.ID, ActorID: client.ID, TargetID: target})
		return nil

	case protocol.CmdPrivacy:
		if err := ch.ChangePrivacy(client.ID); err != nil {
			return err
		}
		d.Audit.Publish(audit.Event{Kind: audit.EventPrivacy, ChannelID: ch.ID, ActorID: client.ID})
		return nil

	default:
		return fmt.Errorf("%w: unknown command %d", protocol.ErrProtocol, req.Cmd)
	}
}

// Disconnect runs the disconnect path for client: transitively purge it
// from every joined channel (destroying channels whose emperor just left
// with no successor), remove it from the registry, and close its socket.
// Idempotent: calling this twice on the same client is a no-op the second
// time because the registry lookup and channel membership will already be
// gone.
func (d *Dispatcher) Disconnect(client *session.Client) {
	for _, channelID := range client.JoinedChannels() {
		ch, found := d.Channels.Find(channelID)
		if !found {
			continue
		}
		result, purged, err := ch.Leave(client.ID)
		if err != nil && !errors.Is(err, channel.ErrTargetNotInChannel) {
			d.Logger.Debug().Err(err).Msg("error purging client from channel during disconnect")
		}
		client.Leave(channelID)

		if result == channel.Destroyed {
			for _, id := range purged {
				if other, ok := d.Clients.Find(id); ok {
					other.Leave(channelID)
				}
			}
			d.Channels.Drop(channelID)
			d.Audit.Publish(audit.Event{Kind: audit.EventChannelDestroyed, ChannelID: channelID, ActorID: client.ID})
		}
	}

	d.Clients.Remove(client.ID)
	client.Close()
}
