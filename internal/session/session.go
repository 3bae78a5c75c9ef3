// Package session implements the per-connection client session: the
// WebSocket handshake, join/init flow, and the event loop that
// multiplexes inbound frames, channel broadcasts, directed signals, and
// a heartbeat ticker onto one outbound stream.
package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"padington/internal/broadcast"
	"padington/internal/channel"
	"padington/internal/docmodel"
	"padington/internal/folder"
	"padington/internal/ids"
	"padington/internal/lobby"
	"padington/internal/protocol"
)

const (
	subProtocol       = "padington"
	heartbeatInterval = time.Second
	writeTimeout      = 5 * time.Second

	// controlRateLimit and controlRateBurst bound how many commands a
	// single session may submit per second before extras are rejected
	// with an error frame rather than disconnecting the client.
	controlRateLimit = 50
	controlRateBurst = 50
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Recorder receives per-session metrics events. A nil Recorder on
// Handler disables counting.
type Recorder interface {
	SessionJoined()
	SessionLeft()
	BroadcastDropped()
}

// Handler binds the WebSocket route and dispatches accepted connections
// into the lobby.
type Handler struct {
	joins   chan<- lobby.JoinRequest
	metrics Recorder
}

// NewHandler returns a Handler that joins incoming connections through
// joins, the lobby's inbound request queue.
func NewHandler(joins chan<- lobby.JoinRequest) *Handler {
	return &Handler{joins: joins}
}

// WithMetrics attaches a Recorder for session lifecycle events.
func (h *Handler) WithMetrics(m Recorder) *Handler {
	h.metrics = m
	return h
}

// Register binds the WebSocket route on an Echo router. The channel
// path is taken verbatim from the request URL, so it is mounted at the
// root and matches every path.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/*", h.HandleWebSocket)
}

// HandleWebSocket performs the sub-protocol handshake, joins the lobby,
// and then blocks running the session's event loop until the connection
// ends.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	req := c.Request()
	if !hasSubprotocol(req, subProtocol) {
		return echo.NewHTTPError(http.StatusNotAcceptable, "expected Sec-WebSocket-Protocol: "+subProtocol)
	}

	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", subProtocol)
	header.Set("Access-Control-Allow-Origin", "*")

	conn, err := upgrader.Upgrade(c.Response(), req, header)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}

	path := req.URL.Path
	remote := c.RealIP()
	log := slog.Default().With("component", "session", "remote", remote, "path", path)

	ctx := context.Background()
	resp, err := lobby.Join(ctx, h.joins, path)
	if err != nil {
		log.Error("join failed", "err", err)
		conn.Close()
		return nil
	}
	switch resp.Kind {
	case folder.KindInvalid:
		log.Error("invalid path", "diag", resp.Diag)
		conn.Close()
		return nil
	case folder.KindFolder:
		writeOnce(conn, protocol.RenderFolder(resp.Diag))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		return nil
	}

	s := newSession(conn, resp, log)
	s.metrics = h.metrics
	if h.metrics != nil {
		h.metrics.SessionJoined()
		defer h.metrics.SessionLeft()
	}
	s.run()
	return nil
}

func hasSubprotocol(r *http.Request, want string) bool {
	for _, p := range websocket.Subprotocols(r) {
		if p == want {
			return true
		}
	}
	return false
}

func writeOnce(conn *websocket.Conn, text string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(text))
}

type outboundKind int

const (
	outText outboundKind = iota
	outBinary
	outPong
	outPing
)

type outboundFrame struct {
	kind outboundKind
	data []byte
}

type inboundFrame struct {
	msgType int
	data    []byte
	err     error
}

// session is one attached connection's private state.
type session struct {
	conn     *websocket.Conn
	userID   ids.UserID
	requests chan<- channel.Request
	sub      *broadcast.Subscription[channel.Broadcast]
	signals  chan channel.SignalEnvelope

	send      chan outboundFrame
	startedAt time.Time
	log       *slog.Logger
	limiter   *rate.Limiter
	metrics   Recorder
}

func newSession(conn *websocket.Conn, resp lobby.JoinResponse, log *slog.Logger) *session {
	return &session{
		conn:      conn,
		userID:    resp.UserID,
		requests:  resp.Requests,
		sub:       resp.Sub,
		signals:   make(chan channel.SignalEnvelope, channel.SignalQueueCapacity),
		send:      make(chan outboundFrame, 32),
		startedAt: time.Now(),
		log:       log.With("user_id", resp.UserID),
		limiter:   rate.NewLimiter(rate.Limit(controlRateLimit), controlRateBurst),
	}
}

// run blocks for the session's entire lifetime, returning once the
// connection is closed in either direction.
func (s *session) run() {
	defer s.conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerDone := make(chan struct{})
	go s.writePump(writerDone)
	defer func() { close(s.send); <-writerDone }()

	inbound := make(chan inboundFrame, 4)
	go s.readPump(inbound)

	broadcasts := make(chan channel.Broadcast, 4)
	go s.broadcastPump(ctx, broadcasts)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	s.conn.SetPingHandler(func(appData string) error {
		select {
		case s.send <- outboundFrame{kind: outPong, data: []byte(appData)}:
		default:
		}
		return nil
	})

	for {
		select {
		case in := <-inbound:
			if in.err != nil {
				s.submitClose()
				return
			}
			if !s.handleInbound(ctx, in) {
				return
			}

		case b := <-broadcasts:
			s.emitBroadcast(b)

		case sig := <-s.signals:
			s.trySend(outText, []byte(protocol.RenderWebRTC(uint64(sig.From), sig.PayloadJSON)))

		case <-ticker.C:
			if !s.sendHeartbeat() {
				s.submitClose()
				return
			}
		}
	}
}

func (s *session) readPump(out chan<- inboundFrame) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		out <- inboundFrame{msgType: msgType, data: data, err: err}
		if err != nil {
			return
		}
	}
}

func (s *session) broadcastPump(ctx context.Context, out chan<- channel.Broadcast) {
	for {
		b, err := s.sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrLagged) {
				s.log.Warn("broadcast subscriber lagged, messages dropped")
				if s.metrics != nil {
					s.metrics.BroadcastDropped()
				}
				continue
			}
			return
		}
		select {
		case out <- b:
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) writePump(done chan<- struct{}) {
	defer close(done)
	for f := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		var err error
		switch f.kind {
		case outText:
			err = s.conn.WriteMessage(websocket.TextMessage, f.data)
		case outBinary:
			err = s.conn.WriteMessage(websocket.BinaryMessage, f.data)
		case outPong:
			err = s.conn.WriteMessage(websocket.PongMessage, f.data)
		case outPing:
			err = s.conn.WriteMessage(websocket.PingMessage, f.data)
		}
		if err != nil {
			s.log.Debug("write failed", "err", err)
			return
		}
	}
}

func (s *session) trySend(kind outboundKind, data []byte) {
	select {
	case s.send <- outboundFrame{kind: kind, data: data}:
	default:
		s.log.Warn("outbound queue full, dropping frame")
	}
}

// handleInbound processes one inbound WebSocket frame. It returns false
// when the session should end.
func (s *session) handleInbound(ctx context.Context, in inboundFrame) bool {
	switch in.msgType {
	case websocket.TextMessage:
		return s.handleCommand(ctx, string(in.data))
	case websocket.BinaryMessage:
		s.trySend(outBinary, in.data)
		return true
	case websocket.CloseMessage:
		s.submitClose()
		return false
	default:
		return true
	}
}

func (s *session) handleCommand(ctx context.Context, line string) bool {
	if !s.limiter.Allow() {
		s.trySend(outText, []byte(protocol.RenderError("rate limit exceeded")))
		return true
	}

	cmd, err := protocol.Parse(line)
	if err != nil {
		s.trySend(outText, []byte(protocol.RenderError(err.Error())))
		return true
	}

	switch cmd.Verb {
	case protocol.VerbInit:
		s.handleInit(ctx, cmd.Name)

	case protocol.VerbChat:
		s.requests <- channel.Request{Kind: channel.ReqChat, Source: s.userID, Text: cmd.Text}

	case protocol.VerbUpdate:
		updateSchema, _ := schemas()
		if err := validateJSON(updateSchema, []byte(cmd.UpdateJSON)); err != nil {
			s.log.Error("malformed update payload", "err", err)
			s.submitClose()
			return false
		}
		var fields struct {
			Name  *string `json:"name"`
			Audio *bool   `json:"audio"`
		}
		if err := json.Unmarshal([]byte(cmd.UpdateJSON), &fields); err != nil {
			s.log.Error("malformed update payload", "err", err)
			s.submitClose()
			return false
		}
		s.requests <- channel.Request{Kind: channel.ReqUpdate, Source: s.userID, UpdateName: fields.Name, UpdateAudio: fields.Audio}

	case protocol.VerbWebRTC:
		s.requests <- channel.Request{
			Kind:          channel.ReqSignal,
			Source:        s.userID,
			ReceiverID:    ids.UserID(cmd.ReceiverID),
			SignalPayload: cmd.SignalJSON,
		}

	case protocol.VerbSteps:
		_, stepsSchema := schemas()
		if err := validateJSON(stepsSchema, []byte(cmd.StepsJSON)); err != nil {
			s.log.Error("malformed steps payload", "err", err)
			s.submitClose()
			return false
		}
		var batch docmodel.Batch
		if err := json.Unmarshal([]byte(cmd.StepsJSON), &batch); err != nil {
			s.log.Error("malformed steps payload", "err", err)
			s.submitClose()
			return false
		}
		s.requests <- channel.Request{Kind: channel.ReqSteps, Source: s.userID, DeclaredVersion: cmd.Version, Steps: batch}

	case protocol.VerbClose:
		s.submitClose()
		return false
	}
	return true
}

func (s *session) handleInit(ctx context.Context, name string) {
	reply := make(chan channel.InitReply, 1)
	s.requests <- channel.Request{
		Kind:        channel.ReqInit,
		Source:      s.userID,
		Name:        name,
		SignalQueue: s.signals,
		InitReply:   reply,
		Ctx:         ctx,
	}

	r := <-reply

	stateJSON, err := json.Marshal(r.State)
	if err != nil {
		s.log.Error("marshal init state", "err", err)
		return
	}
	s.trySend(outText, []byte(protocol.RenderInit(uint64(s.userID), string(stateJSON))))

	rosterJSON, err := json.Marshal(r.Roster)
	if err != nil {
		s.log.Error("marshal roster", "err", err)
		return
	}
	s.trySend(outText, []byte(protocol.RenderPeers(string(rosterJSON))))
}

func (s *session) emitBroadcast(b channel.Broadcast) {
	switch b.Kind {
	case channel.BctNewUser:
		memberJSON, err := json.Marshal(b.Member)
		if err != nil {
			s.log.Error("marshal new-user member", "err", err)
			return
		}
		s.trySend(outText, []byte(protocol.RenderNewUser(uint64(b.UserID), string(memberJSON))))
	case channel.BctUserLeft:
		s.trySend(outText, []byte(protocol.RenderUserLeft(uint64(b.UserID))))
	case channel.BctSteps:
		s.trySend(outText, []byte(protocol.RenderSteps(b.StepsJSON)))
	case channel.BctChat:
		s.trySend(outText, []byte(protocol.RenderChat(uint64(b.UserID), b.Text)))
	case channel.BctUpdate:
		s.trySend(outText, []byte(protocol.RenderUpdate(uint64(b.UserID), b.UpdateJSON)))
	}
}

func (s *session) sendHeartbeat() bool {
	payload := make([]byte, 16)
	micros := time.Since(s.startedAt).Microseconds()
	binary.LittleEndian.PutUint64(payload[0:8], uint64(micros))
	select {
	case s.send <- outboundFrame{kind: outPing, data: payload}:
		return true
	default:
		return false
	}
}

func (s *session) submitClose() {
	s.requests <- channel.Request{Kind: channel.ReqClose, Source: s.userID}
}
