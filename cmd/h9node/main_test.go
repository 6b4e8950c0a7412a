package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/notnil/h9can/canbus"
	"github.com/notnil/h9can/h9"
	"github.com/notnil/h9can/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := idCmd()
	root.AddCommand(versionCmd())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestIDEncode(t *testing.T) {
	out, err := execute(t, "encode", "--type", "GET_REG", "--seq", "5", "--dst", "0x20", "--src", "1")
	if err != nil {
		t.Fatal(err)
	}
	want := h9.EncodeID(h9.PriorityLow, h9.TypeGetReg, 5, 0x20, 1)
	if !strings.HasPrefix(out, fmt.Sprintf("%08X\n", want)) {
		t.Fatalf("output %q, want id %08X", out, want)
	}
	if !strings.Contains(out, "IDT") {
		t.Fatalf("missing register image: %q", out)
	}
}

func TestIDDecode(t *testing.T) {
	id := h9.EncodeID(h9.PriorityHigh, h9.TypeNodeInfo, 3, 1, 0x20)
	out, err := execute(t, "decode", fmt.Sprintf("0x%X", id))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := strings.TrimSpace(out), "priority=0 type=NODE_INFO(22) seq=3 dst=1 src=32"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if _, err := execute(t, "decode", "40000000"); err == nil {
		t.Fatal("30-bit identifier accepted")
	}
}

func TestIDEncodeRejectsBadFields(t *testing.T) {
	for _, args := range [][]string{
		{"encode", "--type", "BOGUS"},
		{"encode", "--type", "32"},
		{"encode", "--dst", "0x200"},
		{"encode", "--seq", "32"},
	} {
		if _, err := execute(t, args...); err == nil {
			t.Fatalf("%v accepted", args)
		}
	}
}

func TestParseAddress(t *testing.T) {
	cases := map[string]uint16{"0x1FF": 0x1FF, "32": 32, " 0x020 ": 0x20}
	for in, want := range cases {
		got, err := parseAddress(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %d %v", in, got, err)
		}
	}
	for _, in := range []string{"512", "-1", "node"} {
		if _, err := parseAddress(in); err == nil {
			t.Fatalf("%q accepted", in)
		}
	}
}

func TestExitCode(t *testing.T) {
	if exitCode(fmt.Errorf("serve: %w", h9.ErrReset)) != exitReset {
		t.Fatal("reset")
	}
	if exitCode(h9.ErrUpgrade) != exitUpgrade {
		t.Fatal("upgrade")
	}
	if exitCode(errors.New("boom")) != exitError {
		t.Fatal("error")
	}
}

func TestRunNode_LoopbackStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Interface = config.LoopbackInterface
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.DefaultAddress = 0x020
	cfg.LogLevel = "disabled"
	cfg.Registers = []config.Register{{Index: 10, Size: 1, Writable: true}}
	cfg.Heartbeat = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runNode(ctx, cfg) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
}

func TestRunNode_SendsHeartbeats(t *testing.T) {
	cfg := config.Default()
	cfg.Interface = config.LoopbackInterface
	cfg.HTTPAddr = ""
	cfg.DefaultAddress = 0x021
	cfg.LogLevel = "disabled"
	cfg.Heartbeat = 10 * time.Millisecond

	watcher := loopback.Open()
	mux := canbus.NewMux(watcher)
	defer mux.Close()
	beats, cancelSub := h9.SubscribeHeartbeats(mux, 0x021, 8)
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runNode(ctx, cfg) }()

	for want := uint8(0); want < 2; want++ {
		select {
		case hb := <-beats:
			if hb.Node != 0x021 || hb.Counter != want {
				t.Fatalf("heartbeat %+v, want counter %d", hb, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no heartbeat %d from the running node", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
}
