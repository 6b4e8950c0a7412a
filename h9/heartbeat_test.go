package h9

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/notnil/h9can/canbus"
)

func TestParseHeartbeat(t *testing.T) {
	m := Msg{Type: TypeNodeHeartbeat, Source: 0x20}
	if _, err := ParseHeartbeat(m); err == nil {
		t.Fatal("empty heartbeat accepted")
	}
	m.SetPayload(7)
	hb, err := ParseHeartbeat(m)
	if err != nil || hb != (Heartbeat{Node: 0x20, Counter: 7}) {
		t.Fatalf("got %+v %v", hb, err)
	}
}

func TestRunHeartbeat_OverLoopback(t *testing.T) {
	bus := canbus.NewLoopbackBus()
	defer bus.Close()
	nodeEP := bus.Open()
	watcherEP := bus.Open()
	mux := canbus.NewMux(watcherEP)
	defer mux.Close()

	beats, cancelSub := SubscribeHeartbeats(mux, testSelf, 8)
	defer cancelSub()
	others, cancelOthers := SubscribeHeartbeats(mux, 0x099, 8)
	defer cancelOthers()

	node, err := NewNode(testIdentity, NewMemoryStore(testSelf))
	if err != nil {
		t.Fatal(err)
	}
	tr := NewBusTransport(nodeEP, node, zerolog.Nop())
	s := NewStack(node, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx, s) }()
	go func() { _ = s.RunHeartbeat(ctx, 10*time.Millisecond) }()

	for want := uint8(0); want < 3; want++ {
		select {
		case hb := <-beats:
			if hb.Node != testSelf || hb.Counter != want {
				t.Fatalf("heartbeat: %+v want counter %d", hb, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for heartbeat %d", want)
		}
	}
	select {
	case hb := <-others:
		t.Fatalf("filtered subscription got %+v", hb)
	default:
	}
}

func TestRunHeartbeat_SkipsUnconfiguredNode(t *testing.T) {
	node, err := NewNode(testIdentity, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr := &fakeTransport{}
	s := NewStack(node, tr)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.RunHeartbeat(ctx, 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("unconfigured node sent %v", tr.sent)
	}
}
