package notify

// pendingMsg is a publish that waits for the broker connection.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds publishes made while disconnected. When full, the oldest
// message is dropped. The caller must synchronize access.
type outbox struct {
	msgs    []pendingMsg
	limit   int
	dropped int
}

func newOutbox(limit int) *outbox {
	return &outbox{msgs: make([]pendingMsg, 0, limit), limit: limit}
}

func (o *outbox) add(msg pendingMsg) {
	if len(o.msgs) == o.limit {
		copy(o.msgs, o.msgs[1:])
		o.msgs = o.msgs[:len(o.msgs)-1]
		o.dropped++
	}
	o.msgs = append(o.msgs, msg)
}

// take empties the outbox, returning the queued messages oldest first and
// how many were dropped since the last take.
func (o *outbox) take() ([]pendingMsg, int) {
	if len(o.msgs) == 0 && o.dropped == 0 {
		return nil, 0
	}
	msgs := make([]pendingMsg, len(o.msgs))
	copy(msgs, o.msgs)
	dropped := o.dropped
	o.msgs = o.msgs[:0]
	o.dropped = 0
	return msgs, dropped
}

func (o *outbox) size() int {
	return len(o.msgs)
}
