package lobby

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"padington/internal/channel"
	"padington/internal/folder"
)

type recordingMetrics struct {
	opened, closed atomic.Int64
}

func (r *recordingMetrics) ChannelOpened() { r.opened.Add(1) }
func (r *recordingMetrics) ChannelClosed() { r.closed.Add(1) }

func startTestLobby(t *testing.T) chan JoinRequest {
	t.Helper()
	dir := t.TempDir()
	root := &folder.Folder{SaveDir: dir}
	joins := make(chan JoinRequest, 8)
	s := New(joins, root)
	go s.Run()
	return joins
}

func TestJoinSamePathSharesChannel(t *testing.T) {
	joins := startTestLobby(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r1, err := Join(ctx, joins, "/pad")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	r2, err := Join(ctx, joins, "/pad")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	if r1.UserID == r2.UserID {
		t.Fatalf("expected distinct user IDs, got %d twice", r1.UserID)
	}

	init1 := make(chan channel.InitReply, 1)
	r1.Requests <- channel.Request{Kind: channel.ReqInit, Source: r1.UserID, InitReply: init1, Ctx: ctx}
	<-init1

	init2 := make(chan channel.InitReply, 1)
	r2.Requests <- channel.Request{Kind: channel.ReqInit, Source: r2.UserID, InitReply: init2, Ctx: ctx}
	reply2 := <-init2

	if len(reply2.Roster) != 2 {
		t.Fatalf("len(Roster) = %d, want 2 (same channel)", len(reply2.Roster))
	}
}

func TestJoinDifferentPathsGetDifferentChannels(t *testing.T) {
	joins := startTestLobby(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r1, err := Join(ctx, joins, "/a")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	r2, err := Join(ctx, joins, "/b")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	if r1.Requests == r2.Requests {
		t.Fatal("expected distinct channel request queues for distinct paths")
	}
}

func TestJoinInvalidPathReturnsDiag(t *testing.T) {
	joins := startTestLobby(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r, err := Join(ctx, joins, "relative/no-leading-slash")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if r.Diag == "" {
		t.Fatal("expected a diagnostic for an invalid path")
	}
	if r.Kind != folder.KindInvalid {
		t.Fatalf("Kind = %v, want KindInvalid", r.Kind)
	}
}

func TestJoinFolderPathReturnsKindFolder(t *testing.T) {
	joins := startTestLobby(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r, err := Join(ctx, joins, "/")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if r.Kind != folder.KindFolder {
		t.Fatalf("Kind = %v, want KindFolder", r.Kind)
	}
}

func TestLastMemberLeavingTerminatesChannel(t *testing.T) {
	joins := startTestLobby(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r1, err := Join(ctx, joins, "/solo")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	init1 := make(chan channel.InitReply, 1)
	r1.Requests <- channel.Request{Kind: channel.ReqInit, Source: r1.UserID, InitReply: init1, Ctx: ctx}
	<-init1

	r1.Requests <- channel.Request{Kind: channel.ReqClose, Source: r1.UserID}

	// Give the lobby goroutine a moment to process the end notification,
	// then rejoining the same path must produce a fresh channel (user ID
	// counter reset to 0) rather than reusing the terminated one.
	time.Sleep(50 * time.Millisecond)

	r2, err := Join(ctx, joins, "/solo")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if r2.UserID != 0 {
		t.Fatalf("UserID = %d, want 0 (fresh channel after termination)", r2.UserID)
	}
}

func TestMetricsRecordChannelOpenAndClose(t *testing.T) {
	dir := t.TempDir()
	root := &folder.Folder{SaveDir: dir}
	joins := make(chan JoinRequest, 8)
	rec := &recordingMetrics{}
	s := New(joins, root).WithMetrics(rec)
	go s.Run()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r, err := Join(ctx, joins, "/tracked")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if rec.opened.Load() != 1 {
		t.Fatalf("opened = %d, want 1", rec.opened.Load())
	}

	r.Requests <- channel.Request{Kind: channel.ReqClose, Source: r.UserID}
	time.Sleep(50 * time.Millisecond)
	if rec.closed.Load() != 1 {
		t.Fatalf("closed = %d, want 1", rec.closed.Load())
	}
}
