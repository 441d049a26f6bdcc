// Package store owns all per-process behavioral state. Records are keyed by
// pid across a fixed set of lock stripes so that concurrent ingestion and
// sweeping never contend unless they touch the same stripe, and operations on
// a single pid are always serialized.
package store

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/procwarden-project/procwarden/internal/core"
)

const numStripes = 64

// Record is the tracked state for one live process. Callers outside this
// package only ever see copies produced by Snapshot.
type Record struct {
	PID             int               `json:"pid"`
	Image           string            `json:"image"`
	CommandLine     string            `json:"command_line"`
	ParentImage     string            `json:"parent_image"`
	FirstSeen       time.Time         `json:"first_seen"`
	SuspicionScore  int               `json:"suspicion_score"`
	Tokens          []string          `json:"tokens"`
	IndicatorCounts map[string]int    `json:"indicator_counts"`
	LastActivity    time.Time         `json:"last_activity"`
}

// record is the internal mutable form; the token buffer is a ring.
type record struct {
	pid         int
	image       string
	commandLine string
	parentImage string
	firstSeen   time.Time
	score       int
	ring        []string
	ringStart   int
	ringLen     int
	indicators  map[string]int
	lastSeen    time.Time
}

type stripe struct {
	mu   sync.Mutex
	recs map[int]*record
}

// Store is the process behavior store.
type Store struct {
	stripes   [numStripes]stripe
	bufferCap int
	whitelist map[string]struct{}
}

// New creates a Store with the given per-process token buffer capacity and
// image-basename whitelist.
func New(bufferCap int, whitelist []string) *Store {
	if bufferCap <= 0 {
		bufferCap = 200
	}
	s := &Store{bufferCap: bufferCap, whitelist: make(map[string]struct{}, len(whitelist))}
	for _, w := range whitelist {
		s.whitelist[strings.ToLower(w)] = struct{}{}
	}
	for i := range s.stripes {
		s.stripes[i].recs = make(map[int]*record)
	}
	return s
}

func (s *Store) stripeFor(pid int) *stripe {
	if pid < 0 {
		pid = -pid
	}
	return &s.stripes[pid%numStripes]
}

// Whitelisted reports whether an image path belongs to a trusted system
// process exempt from tracking. Matching is by basename, case-insensitive.
func (s *Store) Whitelisted(image string) bool {
	if image == "" {
		return false
	}
	base := strings.ToLower(filepath.Base(image))
	if _, ok := s.whitelist[base]; ok {
		return true
	}
	// "System" and friends arrive without a path or extension.
	_, ok := s.whitelist[strings.ToLower(image)]
	return ok
}

// RecordEvent appends the event's token to the process buffer, creating the
// record on first sight. Events from whitelisted images are discarded and
// tracked is false for them. swappedFrom carries the previous image when a
// tracked process reports a different image than it was created with, the
// image-swap tampering signal consumed by the caller; it is empty otherwise.
func (s *Store) RecordEvent(ev *core.BehaviorEvent) (tracked bool, swappedFrom string) {
	image := ev.Attr(core.AttrImage)
	if s.Whitelisted(image) {
		return false, ""
	}

	st := s.stripeFor(ev.PID)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.recs[ev.PID]
	if !ok {
		rec = &record{
			pid:        ev.PID,
			firstSeen:  ev.ObservedAt,
			ring:       make([]string, s.bufferCap),
			indicators: make(map[string]int),
		}
		st.recs[ev.PID] = rec
	}

	if ev.Kind == core.KindProcessCreate {
		if rec.image != "" && image != "" && !strings.EqualFold(rec.image, image) {
			swappedFrom = rec.image
		}
		if image != "" {
			rec.image = image
		}
		if cl := ev.Attr(core.AttrCommandLine); cl != "" {
			rec.commandLine = cl
		}
		if pi := ev.Attr(core.AttrParentImage); pi != "" {
			rec.parentImage = pi
		}
	} else if rec.image == "" && image != "" {
		rec.image = image
	}

	rec.push(ev.Token())
	rec.lastSeen = ev.ObservedAt
	return true, swappedFrom
}

// push appends a token to the ring, evicting the oldest at capacity.
func (r *record) push(token string) {
	if r.ringLen < len(r.ring) {
		r.ring[(r.ringStart+r.ringLen)%len(r.ring)] = token
		r.ringLen++
		return
	}
	r.ring[r.ringStart] = token
	r.ringStart = (r.ringStart + 1) % len(r.ring)
}

// tokens returns the buffered tokens oldest-first.
func (r *record) tokens() []string {
	out := make([]string, r.ringLen)
	for i := 0; i < r.ringLen; i++ {
		out[i] = r.ring[(r.ringStart+i)%len(r.ring)]
	}
	return out
}

// AdjustScore adds delta to the process suspicion score, clamped to [0,100].
// Returns the resulting score; unknown pids return 0 with no effect.
func (s *Store) AdjustScore(pid, delta int) int {
	st := s.stripeFor(pid)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.recs[pid]
	if !ok {
		return 0
	}
	rec.score += delta
	if rec.score > 100 {
		rec.score = 100
	}
	if rec.score < 0 {
		rec.score = 0
	}
	return rec.score
}

// AddIndicator increments the named indicator counter for a process.
func (s *Store) AddIndicator(pid int, name string) {
	st := s.stripeFor(pid)
	st.mu.Lock()
	defer st.mu.Unlock()

	if rec, ok := st.recs[pid]; ok {
		rec.indicators[name]++
	}
}

// Snapshot returns a deep copy of the record for read-only consumption.
// The copy stays consistent even while the live record keeps accumulating
// events on another goroutine.
func (s *Store) Snapshot(pid int) (Record, bool) {
	st := s.stripeFor(pid)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.recs[pid]
	if !ok {
		return Record{}, false
	}
	return rec.snapshot(), true
}

func (r *record) snapshot() Record {
	counts := make(map[string]int, len(r.indicators))
	for k, v := range r.indicators {
		counts[k] = v
	}
	return Record{
		PID:             r.pid,
		Image:           r.image,
		CommandLine:     r.commandLine,
		ParentImage:     r.parentImage,
		FirstSeen:       r.firstSeen,
		SuspicionScore:  r.score,
		Tokens:          r.tokens(),
		IndicatorCounts: counts,
		LastActivity:    r.lastSeen,
	}
}

// BufferLen returns the number of buffered tokens for a pid (0 if unknown).
func (s *Store) BufferLen(pid int) int {
	st := s.stripeFor(pid)
	st.mu.Lock()
	defer st.mu.Unlock()

	if rec, ok := st.recs[pid]; ok {
		return rec.ringLen
	}
	return 0
}

// Evict removes a process record. Idempotent.
func (s *Store) Evict(pid int) {
	st := s.stripeFor(pid)
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.recs, pid)
}

// TrimBuffer drops all but the most recent keep tokens, preserving recent
// context after a clear verdict while bounding memory.
func (s *Store) TrimBuffer(pid, keep int) {
	if keep < 0 {
		keep = 0
	}
	st := s.stripeFor(pid)
	st.mu.Lock()
	defer st.mu.Unlock()

	rec, ok := st.recs[pid]
	if !ok || rec.ringLen <= keep {
		return
	}
	drop := rec.ringLen - keep
	rec.ringStart = (rec.ringStart + drop) % len(rec.ring)
	rec.ringLen = keep
}

// Pids returns the pids of all tracked processes.
func (s *Store) Pids() []int {
	var pids []int
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		for pid := range st.recs {
			pids = append(pids, pid)
		}
		st.mu.Unlock()
	}
	return pids
}

// Len returns the number of tracked processes.
func (s *Store) Len() int {
	n := 0
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		n += len(st.recs)
		st.mu.Unlock()
	}
	return n
}

// EligiblePids returns pids whose buffers hold at least minEvidence tokens,
// the sweeper's per-tick selection.
func (s *Store) EligiblePids(minEvidence int) []int {
	var pids []int
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		for pid, rec := range st.recs {
			if rec.ringLen >= minEvidence {
				pids = append(pids, pid)
			}
		}
		st.mu.Unlock()
	}
	return pids
}

// StaleProcesses returns pids whose process no longer exists (per the alive
// probe) or whose last activity predates now minus window.
func (s *Store) StaleProcesses(now time.Time, window time.Duration, alive func(pid int) bool) []int {
	cutoff := now.Add(-window)
	var stale []int
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		for pid, rec := range st.recs {
			if rec.lastSeen.Before(cutoff) || (alive != nil && !alive(pid)) {
				stale = append(stale, pid)
			}
		}
		st.mu.Unlock()
	}
	return stale
}
