package h9

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/notnil/h9can/canbus"
)

// testNetwork runs one node on a loopback bus and returns a client endpoint.
type testNetwork struct {
	stack  *Stack
	tr     *BusTransport
	client *Client
	mux    *canbus.Mux
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan error
}

func startNetwork(t *testing.T, dev Device) *testNetwork {
	t.Helper()
	bus := canbus.NewLoopbackBus()
	nodeEP := bus.Open()
	clientEP := bus.Open()

	node, err := NewNode(testIdentity, NewMemoryStore(testSelf))
	if err != nil {
		t.Fatal(err)
	}
	tr := NewBusTransport(nodeEP, node, zerolog.Nop())
	s := NewStack(node, tr)

	mux := canbus.NewMux(clientEP)
	client, err := NewClient(clientEP, mux, testRemote, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &testNetwork{stack: s, tr: tr, client: client, mux: mux, cancel: cancel, errs: make(chan error, 2)}
	n.wg.Add(2)
	go func() { defer n.wg.Done(); n.errs <- tr.Run(ctx, s) }()
	go func() { defer n.wg.Done(); n.errs <- s.Serve(ctx, dev, nil) }()

	t.Cleanup(func() {
		cancel()
		n.wg.Wait()
		close(n.errs)
		for err := range n.errs {
			if err != nil {
				t.Errorf("node stopped with %v", err)
			}
		}
		_ = mux.Close()
		_ = bus.Close()
	})
	return n
}

func TestBusTransport_RegisterRoundTrip(t *testing.T) {
	n := startNetwork(t, nil)
	ctx := context.Background()

	v, err := n.client.GetRegister(ctx, testSelf, uint8(RegNodeType))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(v, []byte{0x00, 0x05}) {
		t.Fatalf("node type: % X", v)
	}

	_, err = n.client.SetRegister(ctx, testSelf, uint8(RegNodeType), []byte{1, 2})
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != ErrorReadOnlyRegister || re.Node != testSelf {
		t.Fatalf("set read-only: got %v", err)
	}
}

func TestBusTransport_AddressChangeMovesFilter(t *testing.T) {
	n := startNetwork(t, nil)
	ctx := context.Background()

	v, err := n.client.SetRegister(ctx, testSelf, uint8(RegNodeID), []byte{0x00, 0x44})
	if err != nil {
		t.Fatalf("set node id: %v", err)
	}
	if !bytes.Equal(v, []byte{0x00, 0x44}) {
		t.Fatalf("set node id value: % X", v)
	}
	if n.stack.Node().Address() != 0x044 {
		t.Fatalf("address: %03X", n.stack.Node().Address())
	}
	if _, err := n.client.GetRegister(ctx, testSelf, uint8(RegNodeType)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("old address still served: %v", err)
	}
	v, err = n.client.GetRegister(ctx, 0x044, uint8(RegNodeID))
	if err != nil || !bytes.Equal(v, []byte{0x00, 0x44}) {
		t.Fatalf("new address: % X %v", v, err)
	}
}

func TestBusTransport_NodeIDWriteErrorsComeFromOldAddress(t *testing.T) {
	n := startNetwork(t, nil)
	_, err := n.client.SetRegister(context.Background(), testSelf, uint8(RegNodeID), []byte{0x01, 0xFF})
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != ErrorInvalidMsg || re.Node != testSelf {
		t.Fatalf("set broadcast node id: got %v", err)
	}
	if n.stack.Node().Address() != testSelf {
		t.Fatalf("address changed to %03X", n.stack.Node().Address())
	}
}

func TestBusTransport_Discover(t *testing.T) {
	n := startNetwork(t, nil)
	infos, err := n.client.Discover(context.Background(), BroadcastAddress)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("infos: %+v", infos)
	}
	if i := infos[0]; i.Node != testSelf || i.NodeType != 5 || i.VersionMinor != 3 || i.HardwareRevision != 'b' {
		t.Fatalf("info: %+v", i)
	}
}

func TestBusTransport_QueuedFramesKeepOrder(t *testing.T) {
	n := startNetwork(t, nil)
	ch, cancel := n.mux.Subscribe(canbus.ExtendedOnly(), 16)
	defer cancel()

	for i := 0; i < TXBufferSize-1; i++ {
		m := n.stack.NewMsg(TypeRegInternallyChanged, BroadcastAddress)
		m.SetPayload(10, byte(i))
		if r := n.stack.Submit(m); r == Rejected {
			t.Fatalf("submit %d rejected", i)
		}
	}
	for i := 0; i < TXBufferSize-1; i++ {
		select {
		case f := <-ch:
			if f.Data[1] != byte(i) {
				t.Fatalf("frame %d out of order: %s", i, f)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
}

func TestBusTransport_Watch(t *testing.T) {
	n := startNetwork(t, nil)
	if err := n.tr.Watch(MaxWatches, 0x30, false); err == nil {
		t.Fatal("slot out of range accepted")
	}
	if err := n.tr.Watch(0, BroadcastAddress, false); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("broadcast watch: %v", err)
	}
	if err := n.tr.Watch(1, 0x030, true); err != nil {
		t.Fatal(err)
	}
	if w := n.tr.Watches(); len(w) != 1 || w[0] != (Watch{Node: 0x030, All: true}) {
		t.Fatalf("watches: %+v", w)
	}
}
