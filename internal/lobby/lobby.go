// Package lobby implements the lobby actor: the single goroutine that
// resolves join requests to a channel, spawning a new channel actor the
// first time a path is visited and reference-counting subsequent joins
// so the channel actor terminates once its last member leaves.
package lobby

import (
	"context"
	"fmt"
	"log/slog"

	"padington/internal/broadcast"
	"padington/internal/channel"
	"padington/internal/folder"
	"padington/internal/idgen"
	"padington/internal/ids"
)

// JoinRequest asks the lobby to attach a new session to the channel
// addressed by Path, creating it if no session currently has it open.
type JoinRequest struct {
	Path     string
	Response chan<- JoinResponse
}

// JoinResponse is returned to a session once it has been attached to a
// channel actor, or carries a diagnostic if Path did not resolve to a
// file. Kind mirrors folder.Resolve's outcome so the caller can tell an
// invalid path (a task failure) from a path that names a folder rather
// than a file (a client-visible "folder|" frame).
type JoinResponse struct {
	UserID   ids.UserID
	Requests chan<- channel.Request
	Sub      *broadcast.Subscription[channel.Broadcast]
	Kind     folder.Kind
	Diag     string
}

// Recorder receives channel lifecycle events for /metrics. A nil
// Recorder (the zero value of Server.Metrics) disables counting.
type Recorder interface {
	ChannelOpened()
	ChannelClosed()
}

type entry struct {
	id        ids.ChannelID
	path      string
	count     int
	nextID    idgen.Counter[ids.UserID]
	requests  chan channel.Request
	hub       *broadcast.Hub[channel.Broadcast]
	terminate chan struct{}
}

// Server is the lobby actor's state. The zero value is not usable;
// construct with New.
type Server struct {
	Joins   <-chan JoinRequest
	Root    *folder.Folder
	Metrics Recorder

	nextChannelID idgen.Counter[ids.ChannelID]
	byPath        map[string]ids.ChannelID
	channels      map[ids.ChannelID]*entry
	log           *slog.Logger
}

// New constructs a Server ready to Run. joins is the inbound request
// queue; root describes the folder tree used to resolve join paths to
// markdown files on disk.
func New(joins <-chan JoinRequest, root *folder.Folder) *Server {
	return &Server{
		Joins:    joins,
		Root:     root,
		byPath:   make(map[string]ids.ChannelID),
		channels: make(map[ids.ChannelID]*entry),
		log:      slog.Default().With("component", "lobby"),
	}
}

// WithMetrics attaches a Recorder for channel lifecycle events.
func (s *Server) WithMetrics(m Recorder) *Server {
	s.Metrics = m
	return s
}

// Run processes join requests and channel end-notifications until Joins
// is closed. It is meant to be the whole body of one goroutine.
func (s *Server) Run() {
	end := make(chan ids.ChannelID, 5)
	for {
		select {
		case id, ok := <-end:
			if !ok {
				return
			}
			s.handleEnd(id)
		case req, ok := <-s.Joins:
			if !ok {
				return
			}
			s.handleJoin(req, end)
		}
	}
}

func (s *Server) handleEnd(id ids.ChannelID) {
	e, ok := s.channels[id]
	if !ok {
		s.log.Error("end notification for unknown channel", "channel_id", id)
		return
	}
	switch {
	case e.count < 1:
		s.log.Error("channel refcount already zero", "channel_id", id)
	case e.count == 1:
		delete(s.channels, id)
		delete(s.byPath, e.path)
		close(e.terminate)
		if s.Metrics != nil {
			s.Metrics.ChannelClosed()
		}
		s.log.Info("channel terminated, no members remain", "channel_id", id, "path", e.path)
	default:
		e.count--
	}
}

func (s *Server) handleJoin(req JoinRequest, end chan<- ids.ChannelID) {
	res := folder.Resolve(s.Root, "", req.Path)
	if res.Kind != folder.KindFile {
		req.Response <- JoinResponse{Kind: res.Kind, Diag: res.Diag}
		return
	}

	if id, ok := s.byPath[res.FilePath]; ok {
		e := s.channels[id]
		e.count++
		userID := e.nextID.Next()
		sub := e.hub.Subscribe()
		req.Response <- JoinResponse{UserID: userID, Requests: e.requests, Sub: sub, Kind: folder.KindFile}
		s.log.Info("joined existing channel", "channel_id", id, "user_id", userID, "path", res.FilePath)
		return
	}

	id := s.nextChannelID.Next()
	requests := make(chan channel.Request, 100)
	hub := broadcast.NewHub[channel.Broadcast](100)
	terminate := make(chan struct{})

	actor := channel.NewActor(id, res.FilePath, requests, hub, end, terminate)
	if rec, ok := s.Metrics.(channel.Recorder); ok {
		actor.Metrics = rec
	}
	go func() {
		if err := actor.Run(); err != nil {
			s.log.Error("channel actor exited with error", "channel_id", id, "err", err)
		}
	}()

	e := &entry{id: id, path: res.FilePath, count: 1, requests: requests, hub: hub, terminate: terminate}
	userID := e.nextID.Next()
	sub := hub.Subscribe()

	s.channels[id] = e
	s.byPath[res.FilePath] = id
	if s.Metrics != nil {
		s.Metrics.ChannelOpened()
	}

	req.Response <- JoinResponse{UserID: userID, Requests: requests, Sub: sub, Kind: folder.KindFile}
	s.log.Info("spawned channel", "channel_id", id, "user_id", userID, "path", res.FilePath)
}

// Join is a convenience wrapper for sending a JoinRequest and awaiting
// its JoinResponse, used by sessions that would otherwise need to build
// the response channel themselves.
func Join(ctx context.Context, joins chan<- JoinRequest, path string) (JoinResponse, error) {
	resp := make(chan JoinResponse, 1)
	select {
	case joins <- JoinRequest{Path: path, Response: resp}:
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
}

// DiagError adapts a JoinResponse's Diag string into an error, for
// callers that want normal Go error handling after a failed Join.
func DiagError(diag string) error {
	return fmt.Errorf("lobby: %s", diag)
}
