// Package channel implements the single-writer channel actor: the
// goroutine that owns one channel's document, member roster, and
// broadcast fan-out, applying ordered edit batches with optimistic
// concurrency against a monotonic version number.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"padington/internal/broadcast"
	"padington/internal/docmodel"
	"padington/internal/ids"
)

// RequestKind tags the operation a Request performs.
type RequestKind int

const (
	ReqInit RequestKind = iota
	ReqChat
	ReqUpdate
	ReqSignal
	ReqSteps
	ReqClose
)

// InitReply is what an Init request receives back: the document state
// as of the moment the member was added, and the full roster including
// the new member itself.
type InitReply struct {
	State  docmodel.State
	Roster map[ids.UserID]PublicMember
}

// Request is one message sent to a channel actor's request queue. Only
// the fields relevant to Kind are populated.
type Request struct {
	Kind   RequestKind
	Source ids.UserID

	// ReqInit
	Name        string
	SignalQueue chan<- SignalEnvelope
	InitReply   chan InitReply
	// Ctx bounds how long the actor waits to deliver the InitReply: if
	// the requesting session has already gone away, the actor logs and
	// skips the NewUser broadcast instead of blocking or panicking on a
	// channel nobody is listening to anymore.
	Ctx context.Context

	// ReqChat
	Text string

	// ReqUpdate
	UpdateName  *string
	UpdateAudio *bool

	// ReqSignal
	ReceiverID    ids.UserID
	SignalPayload string

	// ReqSteps
	DeclaredVersion int
	Steps           docmodel.Batch
}

// BroadcastKind tags the shape of a Broadcast.
type BroadcastKind int

const (
	BctNewUser BroadcastKind = iota
	BctUserLeft
	BctSteps
	BctChat
	BctUpdate
)

// Broadcast is one message the actor fans out to every attached session.
type Broadcast struct {
	Kind       BroadcastKind
	UserID     ids.UserID
	Text       string
	Member     PublicMember
	StepsJSON  string
	UpdateJSON string
}

type stepBatchWire struct {
	Src   ids.UserID     `json:"src"`
	Steps docmodel.Batch `json:"steps"`
}

// Recorder receives a count of steps applied for /metrics. A nil
// Recorder on Actor disables counting.
type Recorder interface {
	StepsApplied(n int)
}

// Actor owns one channel's state for its entire lifetime.
type Actor struct {
	ID   ids.ChannelID
	Path string

	Requests  <-chan Request
	Hub       *broadcast.Hub[Broadcast]
	EndNotify chan<- ids.ChannelID
	Terminate <-chan struct{}
	Metrics   Recorder

	members map[ids.UserID]*member
	doc     docmodel.State
	log     *slog.Logger
}

// NewActor constructs an Actor ready to Run.
func NewActor(id ids.ChannelID, path string, requests <-chan Request, hub *broadcast.Hub[Broadcast], endNotify chan<- ids.ChannelID, terminate <-chan struct{}) *Actor {
	return &Actor{
		ID:        id,
		Path:      path,
		Requests:  requests,
		Hub:       hub,
		EndNotify: endNotify,
		Terminate: terminate,
		members:   make(map[ids.UserID]*member),
		log:       slog.Default().With("channel_id", id, "path", path),
	}
}

// Run loads the document, then processes requests until Terminate fires,
// persisting the document before returning. It is meant to be the whole
// body of one goroutine for this channel's entire life.
func (a *Actor) Run() error {
	doc, err := a.load()
	if err != nil {
		return fmt.Errorf("channel %d: load: %w", a.ID, err)
	}
	a.doc = docmodel.State{Doc: doc, Version: 0}

	for {
		select {
		case <-a.Terminate:
			a.persist()
			a.log.Info("channel terminated")
			return nil
		case req, ok := <-a.Requests:
			if !ok {
				a.persist()
				return nil
			}
			a.handle(req)
		}
	}
}

func (a *Actor) load() (docmodel.Node, error) {
	data, err := os.ReadFile(a.Path)
	if errors.Is(err, os.ErrNotExist) {
		doc := docmodel.InitialDoc()
		if err := a.writeMarkdown(doc); err != nil {
			return docmodel.Node{}, fmt.Errorf("seed initial document: %w", err)
		}
		return doc, nil
	}
	if err != nil {
		return docmodel.Node{}, fmt.Errorf("read %s: %w", a.Path, err)
	}
	doc, err := docmodel.ReadMarkdown(string(data))
	if err != nil {
		return docmodel.Node{}, fmt.Errorf("parse %s: %w", a.Path, err)
	}
	return doc, nil
}

func (a *Actor) persist() {
	if err := a.writeMarkdown(a.doc.Doc); err != nil {
		a.log.Error("persist document", "err", err)
	}
}

func (a *Actor) writeMarkdown(doc docmodel.Node) error {
	md, err := docmodel.WriteMarkdown(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return os.WriteFile(a.Path, []byte(md), 0o644)
}

func (a *Actor) handle(req Request) {
	switch req.Kind {
	case ReqInit:
		a.handleInit(req)
	case ReqChat:
		a.Hub.Publish(Broadcast{Kind: BctChat, UserID: req.Source, Text: req.Text})
	case ReqUpdate:
		a.handleUpdate(req)
	case ReqSignal:
		a.handleSignal(req)
	case ReqSteps:
		a.handleSteps(req)
	case ReqClose:
		a.handleClose(req)
	}
}

func (a *Actor) handleInit(req Request) {
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("Bear #%d", req.Source)
	}
	m := &member{Name: name, Signal: req.SignalQueue}
	a.members[req.Source] = m

	roster := make(map[ids.UserID]PublicMember, len(a.members))
	for id, mm := range a.members {
		roster[id] = mm.public()
	}
	reply := InitReply{State: a.doc, Roster: roster}

	ctx := req.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case req.InitReply <- reply:
		a.log.Info("new member", "user_id", req.Source, "name", name)
		a.Hub.Publish(Broadcast{Kind: BctNewUser, UserID: req.Source, Member: m.public()})
	case <-ctx.Done():
		delete(a.members, req.Source)
		a.log.Warn("client dropped while initializing", "user_id", req.Source)
	}
}

func (a *Actor) handleUpdate(req Request) {
	m, ok := a.members[req.Source]
	if !ok {
		a.log.Warn("update for unknown member", "user_id", req.Source)
		return
	}
	changed := make(map[string]any, 2)
	if req.UpdateName != nil {
		m.Name = *req.UpdateName
		changed["name"] = *req.UpdateName
	}
	if req.UpdateAudio != nil {
		m.Audio = *req.UpdateAudio
		changed["audio"] = *req.UpdateAudio
	}
	if len(changed) == 0 {
		return
	}
	data, err := json.Marshal(changed)
	if err != nil {
		a.log.Error("marshal update", "err", err)
		return
	}
	a.Hub.Publish(Broadcast{Kind: BctUpdate, UserID: req.Source, UpdateJSON: string(data)})
}

func (a *Actor) handleSignal(req Request) {
	receiver, ok := a.members[req.ReceiverID]
	if !ok {
		a.log.Warn("signal for unknown receiver", "receiver_id", req.ReceiverID, "source", req.Source)
		return
	}
	env := SignalEnvelope{From: req.Source, PayloadJSON: req.SignalPayload}
	select {
	case receiver.Signal <- env:
	default:
		a.log.Warn("signal queue full, dropping", "receiver_id", req.ReceiverID, "source", req.Source)
	}
}

func (a *Actor) handleSteps(req Request) {
	if req.DeclaredVersion != a.doc.Version {
		a.log.Info("rejected stale steps", "declared_version", req.DeclaredVersion, "current_version", a.doc.Version, "source", req.Source)
		return
	}
	if len(req.Steps) == 0 {
		return
	}
	newDoc, err := docmodel.ApplyBatch(a.doc.Doc, req.Steps)
	if err != nil {
		a.log.Warn("rejected invalid step batch", "err", err, "source", req.Source)
		return
	}
	a.doc.Doc = newDoc
	a.doc.Version += len(req.Steps)
	if a.Metrics != nil {
		a.Metrics.StepsApplied(len(req.Steps))
	}

	data, err := json.Marshal([]stepBatchWire{{Src: req.Source, Steps: req.Steps}})
	if err != nil {
		a.log.Error("marshal steps broadcast", "err", err)
		return
	}
	a.Hub.Publish(Broadcast{Kind: BctSteps, StepsJSON: string(data)})
}

func (a *Actor) handleClose(req Request) {
	delete(a.members, req.Source)
	a.Hub.Publish(Broadcast{Kind: BctUserLeft, UserID: req.Source})
	a.log.Info("member left", "user_id", req.Source)
	a.EndNotify <- a.ID
}
