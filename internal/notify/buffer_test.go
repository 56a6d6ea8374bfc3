package notify

import "testing"

func fill(o *outbox, from, to int) {
	for i := from; i < to; i++ {
		o.add(pendingMsg{topic: "room/events", payload: []byte{byte(i)}})
	}
}

func firstBytes(msgs []pendingMsg) []byte {
	out := make([]byte, len(msgs))
	for i, m := range msgs {
		out[i] = m.payload[0]
	}
	return out
}

func TestOutboxEmptyTake(t *testing.T) {
	o := newOutbox(4)
	if got, dropped := o.take(); got != nil || dropped != 0 {
		t.Errorf("expected nothing from empty outbox, got %d items, %d dropped", len(got), dropped)
	}
}

func TestOutboxOrder(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		added       int
		want        []byte
		wantDropped int
	}{
		{"partial", 5, 3, []byte{0, 1, 2}, 0},
		{"full", 3, 3, []byte{0, 1, 2}, 0},
		{"overflow keeps newest", 3, 5, []byte{2, 3, 4}, 2},
		{"single slot", 1, 4, []byte{3}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOutbox(tt.limit)
			fill(o, 0, tt.added)

			msgs, dropped := o.take()
			if got := firstBytes(msgs); string(got) != string(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if dropped != tt.wantDropped {
				t.Errorf("dropped: got %d, want %d", dropped, tt.wantDropped)
			}
			if o.size() != 0 {
				t.Errorf("size after take: got %d", o.size())
			}
		})
	}
}

func TestOutboxResetsAfterTake(t *testing.T) {
	o := newOutbox(3)
	fill(o, 0, 5)
	o.take()

	fill(o, 10, 12)
	msgs, dropped := o.take()
	if got := firstBytes(msgs); string(got) != string([]byte{10, 11}) {
		t.Errorf("second cycle: got %v", got)
	}
	if dropped != 0 {
		t.Errorf("dropped should reset on take, got %d", dropped)
	}
}

func TestOutboxKeepsPublishOptions(t *testing.T) {
	o := newOutbox(2)
	o.add(pendingMsg{
		topic:    "room/system",
		payload:  []byte(`{"system":{}}`),
		qos:      1,
		retained: true,
	})

	msgs, _ := o.take()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 item, got %d", len(msgs))
	}
	if msgs[0].topic != "room/system" || msgs[0].qos != 1 || !msgs[0].retained {
		t.Errorf("options not kept: %+v", msgs[0])
	}
	if string(msgs[0].payload) != `{"system":{}}` {
		t.Errorf("payload: got %s", msgs[0].payload)
	}
}
