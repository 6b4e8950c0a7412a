package h9

// Metrics receives stack counters. Methods named Frame* may be called from
// event context and must not block.
type Metrics interface {
	FrameReceived()
	FrameDropped()
	FrameSent(queued bool)
	FrameRejected()
	Dispatched(o Outcome)
	ErrorSent(code ErrorCode)
}

type nopMetrics struct{}

func (nopMetrics) FrameReceived()      {}
func (nopMetrics) FrameDropped()       {}
func (nopMetrics) FrameSent(bool)      {}
func (nopMetrics) FrameRejected()      {}
func (nopMetrics) Dispatched(Outcome)  {}
func (nopMetrics) ErrorSent(ErrorCode) {}
