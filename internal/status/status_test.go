package status

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/occupancy-notifier/internal/logic"
)

func fixedTracker(start, now time.Time, cfg Config) *Tracker {
	tr := NewTracker(start, cfg)
	tr.now = func() time.Time { return now }
	return tr
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, Config{Mode: "poll", PollMs: 1000, HTTPAddr: ":8080"})

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 1000 {
		t.Errorf("Config.PollMs: got %d, want 1000", snap.Config.PollMs)
	}
	if snap.HaveCount {
		t.Error("expected no count initially")
	}
	if snap.MQTTConnected || snap.SourceConnected {
		t.Error("expected disconnected initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	tr.Update(logic.State{Occupied: true, Baselined: true}, 3, true, at, logic.EventCounts{Started: 1})

	snap := tr.Snapshot()
	if !snap.State.Occupied {
		t.Error("expected occupied")
	}
	if !snap.HaveCount || snap.LastCount != 3 {
		t.Errorf("count: got %d (have=%v), want 3", snap.LastCount, snap.HaveCount)
	}
	if !snap.LastReading.Equal(at) {
		t.Errorf("LastReading: got %v", snap.LastReading)
	}

	// A malformed reading keeps the previous count.
	tr.Update(snap.State, 0, false, at.Add(time.Second), logic.EventCounts{Started: 1, Malformed: 1})
	snap = tr.Snapshot()
	if snap.LastCount != 3 {
		t.Errorf("count after malformed: got %d, want 3", snap.LastCount)
	}
	if snap.Counts.Malformed != 1 {
		t.Errorf("Counts.Malformed: got %d", snap.Counts.Malformed)
	}
}

func TestRecordDelivery(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	tr := fixedTracker(now, now, Config{})

	tr.RecordDelivery("webhook", nil)
	tr.RecordDelivery("webhook", errors.New("status 500"))
	tr.RecordDelivery("mqtt", nil)

	d := tr.Snapshot().Delivery
	if d.OK != 2 || d.Failed != 1 {
		t.Errorf("delivery: got ok=%d failed=%d", d.OK, d.Failed)
	}
	if d.LastError != "webhook: status 500" {
		t.Errorf("LastError: got %q", d.LastError)
	}
	if !d.LastAt.Equal(now) {
		t.Errorf("LastAt: got %v", d.LastAt)
	}
}

func TestConnectionFlags(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetSourceConnected(true)
	tr.SetMQTTConnected(true)
	snap := tr.Snapshot()
	if !snap.SourceConnected || !snap.MQTTConnected {
		t.Error("expected both connected")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(logic.State{Baselined: true}, 0, true, time.Now(), logic.EventCounts{Ended: 1})
	snap := tr.Snapshot()

	tr.Update(logic.State{Occupied: true, Baselined: true}, 5, true, time.Now(), logic.EventCounts{Ended: 2})
	if snap.State.Occupied || snap.LastCount != 0 || snap.Counts.Ended != 1 {
		t.Error("snapshot should not change after later updates")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(n int) {
			defer wg.Done()
			tr.Update(logic.State{Occupied: n%2 == 0, Baselined: true}, n, true, time.Now(), logic.EventCounts{Started: n})
		}(i)
		go func() {
			defer wg.Done()
			tr.RecordDelivery("webhook", nil)
		}()
		go func() {
			defer wg.Done()
			_ = tr.Snapshot()
		}()
	}
	wg.Wait()
	if tr.Snapshot().Delivery.OK != 50 {
		t.Errorf("Delivery.OK: got %d, want 50", tr.Snapshot().Delivery.OK)
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(90*time.Second + 500*time.Millisecond)
	tr := fixedTracker(start, now, Config{
		Mode:       "push",
		Source:     "xapi",
		WebhookURL: "https://bot.example:8000",
		Join:       "slash",
		HTTPAddr:   ":8080",
	})
	tr.Update(logic.State{Occupied: true, Baselined: true}, 2, true, start.Add(time.Minute), logic.EventCounts{Started: 4, Ended: 3, Malformed: 1})
	tr.SetSourceConnected(true)

	var sj StatusJSON
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := sj.Status
	if s.Occupancy != "OCCUPIED" {
		t.Errorf("Occupancy: got %q", s.Occupancy)
	}
	if s.Count == nil || *s.Count != 2 {
		t.Errorf("Count: got %v", s.Count)
	}
	if s.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds: got %d, want 90", s.UptimeSeconds)
	}
	if s.LastReading != "2026-01-01T00:01:00Z" {
		t.Errorf("LastReading: got %q", s.LastReading)
	}
	if !s.Source.Connected || s.Source.Kind != "xapi" {
		t.Errorf("Source: got %+v", s.Source)
	}
	if s.Counts.Started != 4 || s.Counts.Ended != 3 || s.Counts.Malformed != 1 {
		t.Errorf("Counts: got %+v", s.Counts)
	}
	if s.Config.Mode != "push" || s.Config.Join != "slash" {
		t.Errorf("Config: got %+v", s.Config)
	}
	if s.Event != "" || s.Reason != "" {
		t.Error("web JSON should not carry event/reason")
	}
}

func TestFormatJSONUnknownBeforeFirstReading(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(logic.NewState(true), 0, false, time.Time{}, logic.EventCounts{})

	out := string(FormatJSON(tr.Snapshot()))
	if !strings.Contains(out, `"occupancy": "UNKNOWN"`) {
		t.Errorf("expected UNKNOWN occupancy, got %s", out)
	}
	if strings.Contains(out, `"count"`) {
		t.Errorf("count should be omitted before first reading: %s", out)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	out := FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM")

	var sj StatusJSON
	if err := json.Unmarshal(out, &sj); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != "SIGTERM" {
		t.Errorf("event/reason: got %q/%q", sj.Status.Event, sj.Status.Reason)
	}
	if strings.Contains(string(out), "\n") {
		t.Error("status event should be compact JSON")
	}
}
