package h9

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Buffer sizes. One slot of each ring stays free.
const (
	RXBufferSize = 16
	TXBufferSize = 8
)

// SubmitResult reports what happened to an outgoing message. Monitors see
// Received for inbound messages.
type SubmitResult uint8

const (
	Sent SubmitResult = iota
	Queued
	Rejected
	Received
)

func (r SubmitResult) String() string {
	switch r {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	case Rejected:
		return "rejected"
	case Received:
		return "received"
	}
	return fmt.Sprintf("SubmitResult(%d)", uint8(r))
}

// Direction tells a Monitor whether a message was received or submitted.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "rx"
	}
	return "tx"
}

// Monitor observes messages in poll context: every received message that
// reaches dispatch and every submitted message with its result.
type Monitor func(dir Direction, m Msg, result SubmitResult)

// Device serves requests the core delegates: device registers (index >= 10)
// and bit operations. It must send any response itself, usually via
// Stack.Respond and Stack.Submit.
type Device interface {
	Serve(s *Stack, req Msg)
}

// entry is a buffered frame: the identifier register image, dlc and data.
type entry struct {
	idt  [4]byte
	dlc  uint8
	data [8]byte
}

func (e entry) msg() Msg {
	var m Msg
	m.setID(UnpackID(e.idt))
	m.DLC = e.dlc
	m.Data = e.data
	return m
}

// Stack is the H9 protocol engine of one node. Transport events enter
// through the Handler methods; the application drives Poll (or Serve) from
// a single goroutine and may Submit from any goroutine.
type Stack struct {
	node    *Node
	tr      Transport
	sys     System
	log     zerolog.Logger
	metrics Metrics
	monitor Monitor

	rx    *Ring[entry]
	tx    *Ring[entry]
	seq   atomic.Uint32
	ready chan struct{}
}

// Option configures a Stack.
type Option func(*Stack)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Stack) { s.log = l } }

// WithSystem sets the reset/upgrade mechanism.
func WithSystem(sys System) Option { return func(s *Stack) { s.sys = sys } }

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option { return func(s *Stack) { s.metrics = m } }

// WithMonitor sets a message observer.
func WithMonitor(m Monitor) Option { return func(s *Stack) { s.monitor = m } }

// NewStack creates the engine for node sending through tr.
func NewStack(node *Node, tr Transport, opts ...Option) *Stack {
	s := &Stack{
		node:    node,
		tr:      tr,
		sys:     NopSystem{},
		log:     zerolog.Nop(),
		metrics: nopMetrics{},
		rx:      NewRing[entry](RXBufferSize),
		tx:      NewRing[entry](TXBufferSize),
		ready:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Node returns the node context.
func (s *Stack) Node() *Node { return s.node }

// Ready is signalled after a frame was buffered by OnFrameReceived.
func (s *Stack) Ready() <-chan struct{} { return s.ready }

// Pending returns the number of buffered receive and transmit entries.
func (s *Stack) Pending() (rx, tx int) { return s.rx.Len(), s.tx.Len() }

// OnFrameReceived buffers a received frame. It runs in event context; when
// the receive buffer is full the frame is dropped.
func (s *Stack) OnFrameReceived(id uint32, dlc uint8, data [8]byte) {
	if dlc > 8 {
		dlc = 8
	}
	if !s.rx.TryPush(entry{idt: PackID(id), dlc: dlc, data: data}) {
		s.metrics.FrameDropped()
		return
	}
	s.metrics.FrameReceived()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// OnTransmitComplete starts the next queued frame, if any. It runs in event
// context. The entry leaves the queue only once the transport accepted it.
func (s *Stack) OnTransmitComplete() {
	e, ok := s.tx.Peek()
	if !ok {
		return
	}
	if s.tr.BeginTransmit(UnpackID(e.idt), e.dlc, e.data) {
		s.tx.TryPop()
		s.metrics.FrameSent(true)
	}
}

// Submit transmits m immediately when the transmit channel is idle and
// nothing is queued, otherwise queues it. Rejected means the queue is full.
func (s *Stack) Submit(m Msg) SubmitResult {
	if m.DLC > 8 {
		m.DLC = 8
	}
	id := m.ID()
	res := Rejected

	g := s.node.irq.Disable()
	if s.tx.Len() == 0 && s.tr.BeginTransmit(id, m.DLC, m.Data) {
		res = Sent
	} else if s.tx.TryPush(entry{idt: PackID(id), dlc: m.DLC, data: m.Data}) {
		res = Queued
	}
	g.Restore()

	switch res {
	case Sent:
		s.metrics.FrameSent(false)
	case Rejected:
		s.metrics.FrameRejected()
		s.log.Warn().Stringer("msg", m).Msg("transmit buffer full, message rejected")
	}
	if s.monitor != nil {
		s.monitor(Outbound, m, res)
	}
	return res
}

// Poll drains one received frame, validates it and runs the dispatcher.
// It must be called from a single goroutine.
func (s *Stack) Poll() (Outcome, Msg) {
	e, ok := s.rx.TryPop()
	if !ok {
		return OutcomeNone, Msg{}
	}
	m := e.msg()
	if m.Source == BroadcastAddress {
		s.log.Debug().Stringer("msg", m).Msg("dropping message with broadcast source")
		s.metrics.Dispatched(OutcomeDropped)
		return OutcomeDropped, m
	}
	if s.monitor != nil {
		s.monitor(Inbound, m, Received)
	}
	o := s.dispatch(m)
	s.metrics.Dispatched(o)
	s.log.Trace().Stringer("msg", m).Stringer("outcome", o).Msg("dispatched")
	return o, m
}

// Serve runs the polling context until ctx ends or the node resets or
// upgrades (ErrReset, ErrUpgrade). Delegated requests go to dev; when dev is
// nil they are ignored. Pass-through messages go to observe when non-nil.
func (s *Stack) Serve(ctx context.Context, dev Device, observe func(Msg)) error {
	for {
		o, m := s.Poll()
		switch o {
		case OutcomeNone:
			select {
			case <-ctx.Done():
				return nil
			case <-s.ready:
			}
		case OutcomeDelegate:
			if dev != nil {
				dev.Serve(s, m)
			} else {
				s.log.Debug().Stringer("msg", m).Msg("no device for delegated request")
			}
		case OutcomePassThrough:
			if observe != nil {
				observe(m)
			}
		case OutcomeTerminal:
			if m.Type == TypeNodeUpgrade {
				return ErrUpgrade
			}
			return ErrReset
		}
	}
}

// NewMsg returns an outgoing message from this node with the next sequence
// number, low priority and an empty payload.
func (s *Stack) NewMsg(t Type, destination uint16) Msg {
	return Msg{
		Priority:    PriorityLow,
		Type:        t,
		Seqnum:      uint8(s.seq.Add(1)-1) & seqnumMask,
		Destination: destination & addressMask,
		Source:      s.node.Address(),
	}
}

// Respond returns an empty reply to req: same priority and sequence number,
// addressed back to the requester, typed by ResponseType.
func (s *Stack) Respond(req Msg) Msg {
	return Msg{
		Priority:    req.Priority,
		Type:        ResponseType(req.Type),
		Seqnum:      req.Seqnum,
		Destination: req.Source,
		Source:      s.node.Address(),
	}
}

// SendError replies to req with an ERROR message carrying code.
func (s *Stack) SendError(req Msg, code ErrorCode) SubmitResult {
	res := s.Respond(req)
	res.Type = TypeError
	res.SetPayload(byte(code))
	s.log.Debug().Stringer("req", req).Stringer("code", code).Msg("error reply")
	s.metrics.ErrorSent(code)
	return s.Submit(res)
}

// AnnounceTurnedOn broadcasts NODE_TURNED_ON with the node identity and the
// last reset reason.
func (s *Stack) AnnounceTurnedOn() SubmitResult {
	m := s.NewMsg(TypeNodeTurnedOn, BroadcastAddress)
	m.SetPayload(s.identityPayload()...)
	return s.Submit(m)
}

// identityPayload: node type, version major, version minor (big-endian),
// hardware revision, reset reason.
func (s *Stack) identityPayload() []byte {
	id := s.node.id
	b := binary.BigEndian.AppendUint16(nil, id.NodeType)
	b = binary.BigEndian.AppendUint16(b, id.VersionMajor)
	b = binary.BigEndian.AppendUint16(b, id.VersionMinor)
	return append(b, id.HardwareRevision, byte(id.ResetReason))
}
