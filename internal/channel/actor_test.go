package channel

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"padington/internal/broadcast"
	"padington/internal/docmodel"
	"padington/internal/ids"
)

type recordingMetrics struct {
	steps atomic.Int64
}

func (r *recordingMetrics) StepsApplied(n int) { r.steps.Add(int64(n)) }

func startTestActor(t *testing.T) (chan Request, *broadcast.Hub[Broadcast], chan ids.ChannelID, chan struct{}) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pad.md")

	reqs := make(chan Request, 8)
	hub := broadcast.NewHub[Broadcast](16)
	end := make(chan ids.ChannelID, 1)
	term := make(chan struct{})

	a := NewActor(ids.ChannelID(1), path, reqs, hub, end, term)
	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	t.Cleanup(func() {
		close(term)
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("actor did not terminate")
		}
	})
	return reqs, hub, end, term
}

func initMember(t *testing.T, reqs chan Request, source ids.UserID, name string) InitReply {
	t.Helper()
	reply := make(chan InitReply, 1)
	sig := make(chan SignalEnvelope, SignalQueueCapacity)
	reqs <- Request{Kind: ReqInit, Source: source, Name: name, SignalQueue: sig, InitReply: reply, Ctx: context.Background()}
	select {
	case r := <-reply:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for init reply")
		return InitReply{}
	}
}

func TestInitSeedsDocumentAndReturnsRoster(t *testing.T) {
	reqs, _, _, _ := startTestActor(t)
	reply := initMember(t, reqs, ids.UserID(1), "alice")

	if reply.State.Version != 0 {
		t.Fatalf("Version = %d, want 0", reply.State.Version)
	}
	if len(reply.Roster) != 1 {
		t.Fatalf("len(Roster) = %d, want 1", len(reply.Roster))
	}
	if reply.Roster[ids.UserID(1)].Name != "alice" {
		t.Fatalf("Roster[1].Name = %q, want alice", reply.Roster[1].Name)
	}
}

func TestStepsAdvanceVersionAndBroadcast(t *testing.T) {
	reqs, hub, _, _ := startTestActor(t)
	initMember(t, reqs, ids.UserID(1), "alice")

	sub := hub.Subscribe()
	reqs <- Request{
		Kind:            ReqSteps,
		Source:          ids.UserID(1),
		DeclaredVersion: 0,
		Steps: docmodel.Batch{{
			Kind: docmodel.KindInsert,
			Path: nil,
			Pos:  0,
			Nodes: []docmodel.Node{docmodel.NewText("hello")},
		}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if b.Kind != BctSteps {
		t.Fatalf("Kind = %v, want BctSteps", b.Kind)
	}

	// Requests are handled in queue order, so a later init sees the
	// version the one-step batch advanced to.
	if reply := initMember(t, reqs, ids.UserID(2), "bob"); reply.State.Version != 1 {
		t.Fatalf("Version = %d, want 1", reply.State.Version)
	}
}

func TestStepsApplyRecordsMetrics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pad.md")

	reqs := make(chan Request, 4)
	hub := broadcast.NewHub[Broadcast](4)
	end := make(chan ids.ChannelID, 1)
	term := make(chan struct{})

	a := NewActor(ids.ChannelID(3), path, reqs, hub, end, term)
	rec := &recordingMetrics{}
	a.Metrics = rec
	done := make(chan error, 1)
	go func() { done <- a.Run() }()
	t.Cleanup(func() {
		close(term)
		<-done
	})

	initMember(t, reqs, ids.UserID(1), "alice")
	sub := hub.Subscribe()
	reqs <- Request{
		Kind:            ReqSteps,
		Source:          ids.UserID(1),
		DeclaredVersion: 0,
		Steps: docmodel.Batch{
			{Kind: docmodel.KindInsert, Pos: 0, Nodes: []docmodel.Node{docmodel.NewText("a")}},
			{Kind: docmodel.KindInsert, Pos: 0, Nodes: []docmodel.Node{docmodel.NewText("b")}},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := sub.Recv(ctx); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	// handleSteps runs synchronously in the actor's own goroutine before
	// publishing, so the broadcast having arrived guarantees the metrics
	// write already happened.
	if rec.steps.Load() != 2 {
		t.Fatalf("steps = %d, want 2", rec.steps.Load())
	}
}

func TestStaleStepsAreSilentlyDropped(t *testing.T) {
	reqs, hub, _, _ := startTestActor(t)
	initMember(t, reqs, ids.UserID(1), "alice")

	sub := hub.Subscribe()
	reqs <- Request{
		Kind:            ReqSteps,
		Source:          ids.UserID(1),
		DeclaredVersion: 99, // stale
		Steps: docmodel.Batch{{
			Kind:  docmodel.KindInsert,
			Pos:   0,
			Nodes: []docmodel.Node{docmodel.NewText("hello")},
		}},
	}

	// Follow up with a chat message on the same queue; if it arrives first
	// on the hub, the steps request produced no broadcast of its own.
	reqs <- Request{Kind: ReqChat, Source: ids.UserID(1), Text: "ping"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if b.Kind != BctChat {
		t.Fatalf("Kind = %v, want BctChat (stale steps should not have broadcast)", b.Kind)
	}
}

func TestSignalIsDeliveredToReceiver(t *testing.T) {
	reqs, _, _, _ := startTestActor(t)

	receiverSignal := make(chan SignalEnvelope, SignalQueueCapacity)
	reply := make(chan InitReply, 1)
	reqs <- Request{Kind: ReqInit, Source: ids.UserID(2), Name: "bob", SignalQueue: receiverSignal, InitReply: reply, Ctx: context.Background()}
	<-reply

	initMember(t, reqs, ids.UserID(1), "alice")

	reqs <- Request{Kind: ReqSignal, Source: ids.UserID(1), ReceiverID: ids.UserID(2), SignalPayload: `{"sdp":"offer"}`}

	select {
	case env := <-receiverSignal:
		if env.From != ids.UserID(1) {
			t.Fatalf("From = %d, want 1", env.From)
		}
		if env.PayloadJSON != `{"sdp":"offer"}` {
			t.Fatalf("PayloadJSON = %q", env.PayloadJSON)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal delivery")
	}
}

func TestSignalToUnknownReceiverIsDroppedSilently(t *testing.T) {
	reqs, hub, _, _ := startTestActor(t)
	initMember(t, reqs, ids.UserID(1), "alice")

	sub := hub.Subscribe()
	reqs <- Request{Kind: ReqSignal, Source: ids.UserID(1), ReceiverID: ids.UserID(99), SignalPayload: `{"sdp":"offer"}`}

	// Follow up with a chat message; if it arrives first on the hub, the
	// signal to an unknown receiver produced no broadcast and no error
	// back to the sender.
	reqs <- Request{Kind: ReqChat, Source: ids.UserID(1), Text: "ping"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if b.Kind != BctChat {
		t.Fatalf("Kind = %v, want BctChat (signal to unknown receiver should not broadcast)", b.Kind)
	}
}

func TestSignalDropsWhenReceiverQueueIsFull(t *testing.T) {
	reqs, _, _, _ := startTestActor(t)

	receiverSignal := make(chan SignalEnvelope, SignalQueueCapacity)
	reply := make(chan InitReply, 1)
	reqs <- Request{Kind: ReqInit, Source: ids.UserID(2), Name: "bob", SignalQueue: receiverSignal, InitReply: reply, Ctx: context.Background()}
	<-reply

	initMember(t, reqs, ids.UserID(1), "alice")

	// Fill the receiver's queue to capacity, then send one more: it must
	// be dropped rather than blocking the actor.
	for i := 0; i < SignalQueueCapacity; i++ {
		reqs <- Request{Kind: ReqSignal, Source: ids.UserID(1), ReceiverID: ids.UserID(2), SignalPayload: "fill"}
	}

	done := make(chan struct{})
	go func() {
		reqs <- Request{Kind: ReqSignal, Source: ids.UserID(1), ReceiverID: ids.UserID(2), SignalPayload: "overflow"}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("actor blocked sending to a full signal queue instead of dropping")
	}

	if len(receiverSignal) != SignalQueueCapacity {
		t.Fatalf("receiver queue len = %d, want %d (overflow should be dropped)", len(receiverSignal), SignalQueueCapacity)
	}
}

func TestCloseRemovesMemberAndNotifiesEnd(t *testing.T) {
	reqs, hub, end, _ := startTestActor(t)
	initMember(t, reqs, ids.UserID(1), "alice")

	sub := hub.Subscribe()
	reqs <- Request{Kind: ReqClose, Source: ids.UserID(1)}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := sub.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if b.Kind != BctUserLeft || b.UserID != ids.UserID(1) {
		t.Fatalf("got %+v, want UserLeft for user 1", b)
	}

	select {
	case id := <-end:
		if id != ids.ChannelID(1) {
			t.Fatalf("end notify id = %d, want 1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for end notification")
	}
}

func TestTerminatePersistsDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pad.md")

	reqs := make(chan Request, 4)
	hub := broadcast.NewHub[Broadcast](4)
	end := make(chan ids.ChannelID, 1)
	term := make(chan struct{})

	a := NewActor(ids.ChannelID(2), path, reqs, hub, end, term)
	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	initMember(t, reqs, ids.UserID(1), "alice")
	close(term)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("actor did not terminate")
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected persisted file at %s: %v", path, err)
	}
}
