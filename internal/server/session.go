// Package server drives each accepted connection through identity
// negotiation, admission, command dispatch, and teardown.
package server

import (
	"errors"
	"io"
	"log/slog"
	"time"
)

type sessionState int

const (
	stateAwaitingName sessionState = iota
	stateAwaitingRoom
	stateValidating
	stateActive
	stateTerminated
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitingName:
		return "awaiting_name"
	case stateAwaitingRoom:
		return "awaiting_room"
	case stateValidating:
		return "validating"
	case stateActive:
		return "active"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// session owns one Connection from accept to teardown. registered is true
// exactly while the connection occupies a Registry slot.
type session struct {
	srv        *Server
	conn       *Connection
	log        *slog.Logger
	state      sessionState
	name       string
	room       string
	registered bool
}

func newSession(srv *Server, conn *Connection) *session {
	return &session{
		srv:   srv,
		conn:  conn,
		log:   srv.log.With("conn_id", conn.ID(), "addr", conn.Addr()),
		state: stateAwaitingName,
	}
}

// run steps the state machine until it reaches stateTerminated, then tears
// the connection down along exactly one of the registered/unregistered paths.
func (s *session) run() {
	defer s.terminate()

	for s.state != stateTerminated {
		next := s.step()
		if next != s.state {
			s.log.Debug("session state change", "from", s.state, "to", next)
		}
		s.state = next
	}
}

func (s *session) step() sessionState {
	switch s.state {
	case stateAwaitingName:
		return s.awaitName()
	case stateAwaitingRoom:
		return s.awaitRoom()
	case stateValidating:
		return s.validate()
	case stateActive:
		return s.handleLine()
	default:
		return stateTerminated
	}
}

func (s *session) awaitName() sessionState {
	name, ok := s.prompt(PromptName, s.srv.cfg.MaxNameLength)
	if !ok {
		s.srv.metrics.admission(admissionAbandoned)
		return stateTerminated
	}
	s.name = name
	return stateAwaitingRoom
}

func (s *session) awaitRoom() sessionState {
	room, ok := s.prompt(PromptRoom, s.srv.cfg.MaxRoomLength)
	if !ok {
		s.srv.metrics.admission(admissionAbandoned)
		return stateTerminated
	}
	s.room = room
	return stateValidating
}

// prompt asks for one identity field. Blank input, EOF, and read errors all
// end the session before it ever reaches the Registry.
func (s *session) prompt(text string, limit int) (string, bool) {
	s.conn.Send(text)
	line, err := s.conn.ReadLine()
	if err != nil {
		s.logReadError(err)
		return "", false
	}
	if line == "" {
		s.log.Debug("blank identity field, closing")
		return "", false
	}
	return truncateIdentity(line, limit), true
}

func (s *session) validate() sessionState {
	reg := s.srv.registry
	if !reg.TryReserve(s.name, s.room) {
		return s.reject(NameTakenNotice, admissionNameTaken, ErrNameTaken)
	}

	s.conn.setIdentity(s.name, s.room)
	if _, err := reg.Insert(s.conn); err != nil {
		switch {
		case errors.Is(err, ErrRegistryFull):
			return s.reject(ServerFullNotice, admissionFull, err)
		default:
			// Lost a race with a concurrent join under the same identity.
			return s.reject(NameTakenNotice, admissionNameTaken, err)
		}
	}

	s.registered = true
	s.log = s.log.With("name", s.name, "room", s.room)
	s.srv.metrics.admission(admissionAccepted)
	s.log.Info("client joined")

	s.broadcast(JoinAnnouncement(s.name, s.room))
	s.conn.Send(WelcomeLine(s.room))
	return stateActive
}

func (s *session) reject(notice, result string, reason error) sessionState {
	s.log.Info("admission refused", "name", s.name, "room", s.room, "reason", reason)
	s.srv.metrics.admission(result)
	s.conn.Send(notice)
	return stateTerminated
}

// handleLine reads and dispatches one line in the active state.
func (s *session) handleLine() sessionState {
	line, err := s.conn.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.log.Info("client disconnected")
			s.broadcast(DisconnectNotice(s.name))
			return stateTerminated
		}
		s.logReadError(err)
		return stateTerminated
	}

	switch line {
	case "":
		return stateActive
	case CommandUsers:
		s.conn.Send(FormatUserList(s.srv.registry.ListNames(s.room)))
	case CommandHelp:
		s.conn.Send(HelpText)
	case CommandQuit:
		s.log.Info("client left")
		s.broadcast(LeaveNotice(s.name))
		return stateTerminated
	default:
		s.broadcastFrom(ChatLine(s.name, line))
	}
	return stateActive
}

func (s *session) broadcast(line string) {
	s.publish(line, "")
}

func (s *session) broadcastFrom(line string) {
	s.publish(line, s.name)
}

func (s *session) publish(line, sender string) {
	delivered, dropped := s.srv.registry.Broadcast(s.room, []byte(line))
	s.srv.metrics.broadcast(delivered, dropped)

	event := MirrorEvent{Room: s.room, Sender: sender, Line: line, SentAt: time.Now().UTC()}
	if !s.srv.feed.offer(event) {
		s.srv.metrics.mirrorDrop()
		s.log.Warn("mirror event dropped", "room", s.room)
	}
}

// terminate releases the connection. A registered connection leaves the
// Registry before its queue is closed so no broadcast can target a closed
// queue; an unregistered one never touches the Registry.
func (s *session) terminate() {
	if s.registered {
		s.srv.registry.Remove(s.conn)
		s.registered = false
	}
	s.conn.Close()
	s.log.Debug("session closed")
}

func (s *session) logReadError(err error) {
	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		s.log.Debug("connection closed", "err", err)
		return
	}
	s.log.Warn("read error", "err", err)
}
