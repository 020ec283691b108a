// Package server owns the TCP listener and the per-connection read loop:
// accept, admission control, frame decode, dispatch, and the graceful
// drain-then-close shutdown sequence.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/channel"
	"chatrelay/internal/dispatch"
	"chatrelay/internal/metrics"
	"chatrelay/internal/protocol"
	"chatrelay/internal/session"
	"chatrelay/internal/workerpool"
)

// Config holds the server's runtime parameters, split out so cmd/chatrelayd
// can build one from environment config without the server package knowing
// about env vars itself.
type Config struct {
	Addr            string
	MaxConnections  int
	MaxChannels     int
	WorkerCount     int
	WorkerQueueSize int
	// GracePeriod bounds how long Shutdown waits for active connections to
	// drain on their own before force-closing them.
	GracePeriod time.Duration
}

// Server accepts TCP connections speaking the length-prefixed frame
// protocol and routes every frame through a shared Dispatcher.
type Server struct {
	config Config
	logger zerolog.Logger

	listener net.Listener
	sem      chan struct{}

	clients  *session.Registry
	channels *channel.Registry
	pool     *workerpool.Pool
	dispatch *dispatch.Dispatcher

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown atomic.Bool

	connCount atomic.Int64
}

// New wires a Server's registries, worker pool, and dispatcher together.
// The audit sink is configured on the dispatcher, not here.
func New(config Config, logger zerolog.Logger, dispatcher *dispatch.Dispatcher, clients *session.Registry, channels *channel.Registry, pool *workerpool.Pool) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   config,
		logger:   logger,
		sem:      make(chan struct{}, config.MaxConnections),
		clients:  clients,
		channels: channels,
		pool:     pool,
		dispatch: dispatcher,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the listener, starts the worker pool, and begins the accept
// loop in a background goroutine. It returns once the listener is bound.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	s.pool.Start(s.ctx)

	s.logger.Info().Str("addr", s.config.Addr).Msg("chat relay listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return
			}
			s.logger.Error().Err(err).Msg("accept error")
			return
		}

		if s.shuttingDown.Load() {
			conn.Close()
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			metrics.ConnectionsRejected.Inc()
			s.rejectFull(conn)
			continue
		}

		client, err := s.clients.Add(conn)
		if err != nil {
			<-s.sem
			metrics.ConnectionsRejected.Inc()
			s.rejectFull(conn)
			continue
		}

		metrics.ConnectionsAccepted.Inc()
		s.connCount.Add(1)
		s.wg.Add(1)
		go s.serveClient(client)
	}
}

// rejectFull writes the server-at-capacity response on a connection that
// never made it into the client registry, then closes it. No SVR_CONNECT
// request has been read yet, so the response id is the reserved capacity id
// rather than an echo of a request id.
func (s *Server) rejectFull(conn net.Conn) {
	_ = protocol.WriteFrame(conn, protocol.IDCapacity, protocol.SvrConnect, []byte("server is full"))
	conn.Close()
}

// serveClient is the per-connection read loop: it decodes frames until a
// fatal error (protocol violation, closed socket, SVR_DISCONNECT), then
// runs the client's full disconnect path exactly once.
func (s *Server) serveClient(client *session.Client) {
	defer s.wg.Done()
	defer func() {
		<-s.sem
		s.connCount.Add(-1)
	}()

	logger := s.logger.With().Uint32("client_id", client.ID).Logger()

	for {
		frame, err := protocol.ReadFrame(client.Conn())
		if err != nil {
			if !protocol.IsFatal(err) {
				logger.Debug().Err(err).Msg("malformed frame, disconnecting")
			}
			break
		}

		metrics.FramesReceived.Inc()
		result := s.dispatch.Handle(client, frame)
		if result.Fatal {
			break
		}
		if result.HasReply {
			client.Send(protocol.Encode(result.Response.ID, result.Response.Type, result.Response.Payload))
		}
		if client.Bad() {
			break
		}
	}

	s.dispatch.Disconnect(client)
	logger.Info().Msg("client disconnected")
}

// Shutdown stops accepting new connections, then waits up to
// config.GracePeriod for in-flight connections to close on their own before
// force-closing whatever remains.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("shutdown: no longer accepting connections")
	s.shuttingDown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	deadline := time.NewTimer(s.config.GracePeriod)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

drain:
	for {
		select {
		case <-deadline.C:
			remaining := s.connCount.Load()
			if remaining > 0 {
				s.logger.Warn().Int64("remaining", remaining).Msg("grace period expired, forcing remaining connections closed")
				s.clients.Range(func(c *session.Client) { c.Close() })
			}
			break drain
		case <-ticker.C:
			if s.connCount.Load() == 0 {
				break drain
			}
		}
	}

	s.cancel()
	s.pool.Stop()
	s.wg.Wait()
	s.logger.Info().Msg("shutdown complete")
	return nil
}
