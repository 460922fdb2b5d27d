package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/mattjoyce/debugbridge/internal/client"
	"github.com/mattjoyce/debugbridge/internal/events"
	"github.com/mattjoyce/debugbridge/internal/protocol"
)

// handleWS upgrades to the client connection. A new connection replaces the
// one already attached.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := client.NewWSConn(ws)
	if prev := s.slot.Attach(conn); prev != nil {
		_ = prev.Close()
		s.feed.Publish(events.ClientDetached, map[string]any{"client_id": prev.ID(), "reason": "replaced"})
	}
	s.feed.Publish(events.ClientAttached, map[string]any{
		"client_id":   conn.ID(),
		"remote_addr": r.RemoteAddr,
	})

	// Pending submissions are abandoned once the socket closes.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-conn.Done()
		cancel()
	}()

	conn.Serve(func(data []byte) {
		s.dispatch(ctx, conn, data)
	})

	switch {
	case s.slot.Detach(conn):
		s.feed.Publish(events.ClientDetached, map[string]any{"client_id": conn.ID(), "reason": "closed"})
	case errors.Is(conn.Err(), client.ErrSlowClient):
		s.feed.Publish(events.ClientDetached, map[string]any{"client_id": conn.ID(), "reason": "slow"})
	}
}

// dispatch runs one inbound client message. Undecodable and unrecognized
// commands are answered with an error envelope without a code.
func (s *Server) dispatch(ctx context.Context, conn *client.WSConn, data []byte) {
	cmd, err := protocol.UnmarshalCommand(data)
	if err != nil {
		s.logger.Debug("invalid client message", "client_id", conn.ID(), "error", err)
		_ = conn.Send(protocol.Error("Invalid command: "+err.Error(), 0, ""))
		return
	}

	handled, err := s.session.Handle(ctx, cmd)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("command submission failed", "command", cmd.Name(), "error", err)
		}
		return
	}
	if !handled {
		s.logger.Debug("command not handled", "command", cmd.Name())
		_ = conn.Send(protocol.Error("Command not handled: "+cmd.Command, 0, cmd.Name()))
	}
}
