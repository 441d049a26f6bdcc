package store

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/procwarden-project/procwarden/internal/core"
)

func createEvent(t *testing.T, pid int, image string) *core.BehaviorEvent {
	t.Helper()
	ev := core.NewBehaviorEvent(pid, core.KindProcessCreate)
	ev.Attrs[core.AttrImage] = image
	return ev
}

func connectEvent(t *testing.T, pid int, ip, port string) *core.BehaviorEvent {
	t.Helper()
	ev := core.NewBehaviorEvent(pid, core.KindNetworkConnect)
	ev.Attrs[core.AttrDestIP] = ip
	ev.Attrs[core.AttrDestPort] = port
	return ev
}

func TestRecordEvent_CreatesOnFirstSight(t *testing.T) {
	s := New(200, nil)
	tracked, swapped := s.RecordEvent(createEvent(t, 100, `C:\evil.exe`))
	if !tracked || swapped != "" {
		t.Fatalf("RecordEvent() = (%v, %q)", tracked, swapped)
	}

	rec, ok := s.Snapshot(100)
	if !ok {
		t.Fatal("Snapshot() missing new record")
	}
	if rec.Image != `C:\evil.exe` || rec.SuspicionScore != 0 || len(rec.Tokens) != 1 {
		t.Errorf("Snapshot() = %+v", rec)
	}
}

func TestRecordEvent_Whitelist(t *testing.T) {
	s := New(200, []string{"svchost.exe", "System"})

	tracked, _ := s.RecordEvent(createEvent(t, 100, `C:\Windows\System32\SVCHOST.EXE`))
	if tracked {
		t.Error("whitelisted image (case-insensitive, basename match) should be discarded")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}

	tracked, _ = s.RecordEvent(createEvent(t, 101, `C:\evil\svchost2.exe`))
	if !tracked {
		t.Error("non-whitelisted image should be tracked")
	}
}

func TestRecordEvent_ImageSwapSignal(t *testing.T) {
	s := New(200, nil)
	s.RecordEvent(createEvent(t, 100, `C:\good.exe`))

	_, swapped := s.RecordEvent(createEvent(t, 100, `C:\injected.exe`))
	if swapped != `C:\good.exe` {
		t.Errorf("swappedFrom = %q, want previous image", swapped)
	}

	// Same image again, different case: no swap.
	_, swapped = s.RecordEvent(createEvent(t, 100, `C:\INJECTED.EXE`))
	if swapped != "" {
		t.Errorf("swappedFrom = %q, want empty for case-only difference", swapped)
	}

	rec, _ := s.Snapshot(100)
	if rec.Image != `C:\INJECTED.EXE` {
		t.Errorf("Image = %q, want latest reported image", rec.Image)
	}
}

func TestRingBuffer_CapacityProperty(t *testing.T) {
	const capacity = 8
	s := New(capacity, nil)
	for i := 0; i < 50; i++ {
		s.RecordEvent(connectEvent(t, 100, fmt.Sprintf("10.0.0.%d", i), "80"))
	}

	rec, _ := s.Snapshot(100)
	if len(rec.Tokens) != capacity {
		t.Fatalf("len(Tokens) = %d, want %d", len(rec.Tokens), capacity)
	}
	// Most recent tokens retained, oldest first.
	if rec.Tokens[0] != "connect:10.0.0.42:80" || rec.Tokens[capacity-1] != "connect:10.0.0.49:80" {
		t.Errorf("Tokens = %v", rec.Tokens)
	}
}

func TestAdjustScore_Clamping(t *testing.T) {
	s := New(200, nil)
	s.RecordEvent(createEvent(t, 100, `C:\x.exe`))

	if got := s.AdjustScore(100, 60); got != 60 {
		t.Errorf("AdjustScore(+60) = %d, want 60", got)
	}
	if got := s.AdjustScore(100, 60); got != 100 {
		t.Errorf("AdjustScore(+60 again) = %d, want clamp at 100", got)
	}
	if got := s.AdjustScore(100, -500); got != 0 {
		t.Errorf("AdjustScore(-500) = %d, want clamp at 0", got)
	}
	if got := s.AdjustScore(999, 50); got != 0 {
		t.Errorf("AdjustScore on unknown pid = %d, want 0", got)
	}
}

func TestEvict_NoResidualState(t *testing.T) {
	s := New(200, nil)
	s.RecordEvent(createEvent(t, 100, `C:\x.exe`))
	s.AdjustScore(100, 90)
	s.AddIndicator(100, "injection")

	s.Evict(100)
	s.Evict(100) // idempotent

	if _, ok := s.Snapshot(100); ok {
		t.Fatal("Snapshot() should miss after eviction")
	}

	// Pid reuse gets a fresh record.
	s.RecordEvent(createEvent(t, 100, `C:\y.exe`))
	rec, _ := s.Snapshot(100)
	if rec.SuspicionScore != 0 || len(rec.Tokens) != 1 || len(rec.IndicatorCounts) != 0 {
		t.Errorf("reused pid record = %+v, want fresh state", rec)
	}
}

func TestTrimBuffer(t *testing.T) {
	s := New(200, nil)
	for i := 0; i < 30; i++ {
		s.RecordEvent(connectEvent(t, 100, fmt.Sprintf("10.0.0.%d", i), "80"))
	}

	s.TrimBuffer(100, 5)
	rec, _ := s.Snapshot(100)
	if len(rec.Tokens) != 5 {
		t.Fatalf("len(Tokens) = %d, want 5", len(rec.Tokens))
	}
	if rec.Tokens[4] != "connect:10.0.0.29:80" {
		t.Errorf("Tokens = %v, want most recent retained", rec.Tokens)
	}

	s.TrimBuffer(100, 50) // keep larger than buffer: no-op
	if got := s.BufferLen(100); got != 5 {
		t.Errorf("BufferLen() after oversized trim = %d, want 5", got)
	}
}

func TestSnapshot_Isolation(t *testing.T) {
	s := New(200, nil)
	s.RecordEvent(createEvent(t, 100, `C:\x.exe`))
	s.AddIndicator(100, "persistence")

	snap, _ := s.Snapshot(100)
	snap.Tokens[0] = "mutated"
	snap.IndicatorCounts["persistence"] = 99

	fresh, _ := s.Snapshot(100)
	if fresh.Tokens[0] != "CreateProcess" {
		t.Error("snapshot token mutation leaked into the store")
	}
	if fresh.IndicatorCounts["persistence"] != 1 {
		t.Error("snapshot counter mutation leaked into the store")
	}
}

func TestEligiblePids(t *testing.T) {
	s := New(200, nil)
	for i := 0; i < 5; i++ {
		s.RecordEvent(connectEvent(t, 100, fmt.Sprintf("1.1.1.%d", i), "80"))
	}
	s.RecordEvent(createEvent(t, 200, `C:\y.exe`))

	got := s.EligiblePids(5)
	if len(got) != 1 || got[0] != 100 {
		t.Errorf("EligiblePids(5) = %v, want [100]", got)
	}
}

func TestStaleProcesses(t *testing.T) {
	s := New(200, nil)

	old := createEvent(t, 100, `C:\old.exe`)
	old.ObservedAt = time.Now().Add(-time.Hour)
	s.RecordEvent(old)
	s.RecordEvent(createEvent(t, 200, `C:\fresh.exe`))
	s.RecordEvent(createEvent(t, 300, `C:\gone.exe`))

	alive := func(pid int) bool { return pid != 300 }
	got := s.StaleProcesses(time.Now(), 10*time.Minute, alive)
	sort.Ints(got)
	if len(got) != 2 || got[0] != 100 || got[1] != 300 {
		t.Errorf("StaleProcesses() = %v, want [100 300]", got)
	}
}
