package h9

import "fmt"

// Outcome is the result of processing one received message.
type Outcome uint8

const (
	// OutcomeNone: the receive buffer was empty.
	OutcomeNone Outcome = iota
	// OutcomeHandled: the core sent exactly one response or error frame.
	OutcomeHandled
	// OutcomeTerminal: reset or upgrade was triggered; no response.
	OutcomeTerminal
	// OutcomeDelegate: device-specific logic must serve the request.
	OutcomeDelegate
	// OutcomePassThrough: traffic observed for the application; no action.
	OutcomePassThrough
	// OutcomeDropped: the message was invalid (broadcast source) and discarded.
	OutcomeDropped
)

var outcomeNames = [...]string{"none", "handled", "terminal", "delegate", "pass-through", "dropped"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", uint8(o))
}

type action struct {
	dlc func(uint8) bool
	run func(s *Stack, req Msg) Outcome
}

// rule is one dispatch group. Rules are tried in order; the first whose
// match accepts the message decides. A matched group without an action for
// the type/dlc combination yields INVALID_MSG.
type rule struct {
	name        string
	match       func(req Msg, self uint16) bool
	passThrough bool
	actions     map[Type]action
}

func dlcIs(n uint8) func(uint8) bool { return func(d uint8) bool { return d == n } }
func dlcAbove(n uint8) func(uint8) bool { return func(d uint8) bool { return d > n } }

var dispatchRules = []rule{
	{
		name: "broadcast",
		match: func(req Msg, self uint16) bool {
			return req.Type.InBroadcastSubgroup() &&
				(req.Destination == self || req.Destination == BroadcastAddress)
		},
		actions: map[Type]action{
			TypeDiscover:  {dlc: dlcIs(0), run: (*Stack).handleDiscover},
			TypeNodeReset: {dlc: dlcIs(0), run: (*Stack).handleReset},
		},
	},
	{
		name: "node",
		match: func(req Msg, self uint16) bool {
			return req.Type.InStandardGroup() && req.Destination == self
		},
		actions: map[Type]action{
			TypeSetReg:      {dlc: dlcAbove(1), run: (*Stack).handleSetReg},
			TypeGetReg:      {dlc: dlcIs(1), run: (*Stack).handleGetReg},
			TypeNodeUpgrade: {dlc: dlcIs(0), run: (*Stack).handleUpgrade},
			TypeSetBit:      {dlc: dlcIs(2), run: delegate},
			TypeClearBit:    {dlc: dlcIs(2), run: delegate},
			TypeToggleBit:   {dlc: dlcIs(2), run: delegate},
		},
	},
	{
		name: "remote",
		match: func(req Msg, _ uint16) bool {
			return req.Type.InAllRemoteGroup()
		},
		passThrough: true,
	},
}

// responseTypes maps a request type to the type of its reply.
var responseTypes = map[Type]Type{
	TypeGetReg:    TypeRegValue,
	TypeSetReg:    TypeRegExternallyChanged,
	TypeSetBit:    TypeRegExternallyChanged,
	TypeClearBit:  TypeRegExternallyChanged,
	TypeToggleBit: TypeRegExternallyChanged,
	TypeDiscover:  TypeNodeInfo,
}

// ResponseType returns the reply type for a request type. Requests without
// a defined reply map to ERROR.
func ResponseType(req Type) Type {
	if t, ok := responseTypes[req]; ok {
		return t
	}
	return TypeError
}

func (s *Stack) dispatch(req Msg) Outcome {
	self := s.node.Address()
	for _, r := range dispatchRules {
		if !r.match(req, self) {
			continue
		}
		if r.passThrough {
			return OutcomePassThrough
		}
		if a, ok := r.actions[req.Type]; ok && a.dlc(req.DLC) {
			return a.run(s, req)
		}
		break
	}
	s.SendError(req, ErrorInvalidMsg)
	return OutcomeHandled
}

func delegate(*Stack, Msg) Outcome { return OutcomeDelegate }

func (s *Stack) handleDiscover(req Msg) Outcome {
	res := s.Respond(req)
	res.SetPayload(s.identityPayload()[:7]...)
	s.Submit(res)
	return OutcomeHandled
}

func (s *Stack) handleReset(req Msg) Outcome {
	s.log.Warn().Uint16("from", req.Source).Msg("node reset requested")
	s.sys.Reset()
	return OutcomeTerminal
}

func (s *Stack) handleUpgrade(req Msg) Outcome {
	s.log.Warn().Uint16("from", req.Source).Msg("node upgrade requested")
	if s.sys.Upgrade() {
		return OutcomeTerminal
	}
	s.SendError(req, ErrorBootloaderUnsupported)
	return OutcomeHandled
}

func (s *Stack) handleSetReg(req Msg) Outcome {
	reg := Register(req.Data[0])
	if !reg.Standard() {
		return OutcomeDelegate
	}
	value, code := s.node.WriteRegister(reg, req.Payload()[1:])
	if code != errNone {
		s.SendError(req, code)
		return OutcomeHandled
	}
	s.log.Info().Stringer("register", reg).Hex("value", value).Uint16("from", req.Source).Msg("register written")
	s.replyRegister(req, reg, value)
	return OutcomeHandled
}

func (s *Stack) handleGetReg(req Msg) Outcome {
	reg := Register(req.Data[0])
	if !reg.Standard() {
		return OutcomeDelegate
	}
	value, code := s.node.ReadRegister(reg)
	if code != errNone {
		s.SendError(req, code)
		return OutcomeHandled
	}
	s.replyRegister(req, reg, value)
	return OutcomeHandled
}

func (s *Stack) replyRegister(req Msg, reg Register, value []byte) {
	res := s.Respond(req)
	res.SetPayload(append([]byte{byte(reg)}, value...)...)
	s.Submit(res)
}
