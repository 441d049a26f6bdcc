// Package normalize converts raw telemetry records into canonical behavior
// events. The raw side of the boundary is messy: positional string fields,
// short arrays, unmonitored event kinds, records with no usable process id.
// Everything that crosses the boundary is either a well-formed BehaviorEvent
// or nothing.
package normalize

import (
	"strconv"
	"sync/atomic"

	"github.com/procwarden-project/procwarden/internal/core"
)

// Source event IDs as emitted by the Sysmon-style telemetry provider.
const (
	rawProcessCreate      = 1
	rawNetworkConnect     = 3
	rawImageLoad          = 7
	rawCreateRemoteThread = 8
	rawProcessAccess      = 10
	rawFileCreate         = 11
	rawRegistryAdd        = 12
	rawRegistrySet        = 13
	rawRegistryRename     = 14
	rawDnsQuery           = 22
)

// Positional field indexes per event kind, matching the provider's rendering
// order. Records may be truncated; Field() tolerates that.
const (
	fldPID         = 3
	fldImage       = 4
	fldCommandLine = 10
	fldParentImage = 13
	fldDestIP      = 14
	fldDestPort    = 16
	fldImageLoaded = 5
	fldTargetPID   = 6
	fldTargetImage = 7
	fldTargetFile  = 5
	fldTargetKey   = 5
	fldQueryName   = 4
	fldDnsImage    = 7
)

// Normalizer converts raw records to behavior events and counts what it
// drops. It is pure with respect to engine state: no side effects beyond its
// own counters.
type Normalizer struct {
	dropped  atomic.Int64
	accepted atomic.Int64
}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize converts one raw record. The second return value is false when
// the record's kind is unmonitored or no process id could be extracted; such
// records are counted and dropped, never an error.
func (n *Normalizer) Normalize(rec *core.RawRecord) (*core.BehaviorEvent, bool) {
	if rec == nil {
		n.dropped.Add(1)
		return nil, false
	}

	kind, ok := kindFor(rec.EventID)
	if !ok {
		n.dropped.Add(1)
		return nil, false
	}

	// For thread and access events the acting (source) process occupies the
	// same slot the other kinds use for their process id.
	pid, ok := parsePID(rec.Field(fldPID))
	if !ok {
		n.dropped.Add(1)
		return nil, false
	}

	ev := core.NewBehaviorEvent(pid, kind)
	if !rec.Timestamp.IsZero() {
		ev.ObservedAt = rec.Timestamp.UTC()
	}

	switch kind {
	case core.KindProcessCreate:
		setAttr(ev, core.AttrImage, rec.Field(fldImage))
		setAttr(ev, core.AttrCommandLine, rec.Field(fldCommandLine))
		setAttr(ev, core.AttrParentImage, rec.Field(fldParentImage))
	case core.KindNetworkConnect:
		setAttr(ev, core.AttrImage, rec.Field(fldImage))
		setAttr(ev, core.AttrDestIP, rec.Field(fldDestIP))
		setAttr(ev, core.AttrDestPort, rec.Field(fldDestPort))
	case core.KindImageLoad:
		setAttr(ev, core.AttrImage, rec.Field(fldImage))
		setAttr(ev, core.AttrImageLoaded, rec.Field(fldImageLoaded))
	case core.KindRemoteThreadCreate:
		setAttr(ev, core.AttrImage, rec.Field(fldImage))
		setAttr(ev, core.AttrTargetPID, rec.Field(fldTargetPID))
	case core.KindProcessAccess:
		setAttr(ev, core.AttrImage, rec.Field(fldImage))
		setAttr(ev, core.AttrTargetPID, rec.Field(fldTargetPID))
		setAttr(ev, core.AttrTargetImage, rec.Field(fldTargetImage))
	case core.KindFileCreate:
		setAttr(ev, core.AttrImage, rec.Field(fldImage))
		setAttr(ev, core.AttrTargetFile, rec.Field(fldTargetFile))
	case core.KindRegistryWrite:
		setAttr(ev, core.AttrImage, rec.Field(fldImage))
		setAttr(ev, core.AttrTargetKey, rec.Field(fldTargetKey))
	case core.KindDnsQuery:
		// The DNS rendering puts the query name where other kinds carry
		// their image; the acting image sits further down the record.
		setAttr(ev, core.AttrImage, rec.Field(fldDnsImage))
		setAttr(ev, core.AttrQueryName, rec.Field(fldQueryName))
	}

	n.accepted.Add(1)
	return ev, true
}

// Dropped returns the count of records dropped so far.
func (n *Normalizer) Dropped() int64 { return n.dropped.Load() }

// Accepted returns the count of records normalized so far.
func (n *Normalizer) Accepted() int64 { return n.accepted.Load() }

// kindFor maps a raw event ID onto the closed EventKind set. The three
// registry event IDs collapse into a single write kind.
func kindFor(eventID int) (core.EventKind, bool) {
	switch eventID {
	case rawProcessCreate:
		return core.KindProcessCreate, true
	case rawNetworkConnect:
		return core.KindNetworkConnect, true
	case rawImageLoad:
		return core.KindImageLoad, true
	case rawCreateRemoteThread:
		return core.KindRemoteThreadCreate, true
	case rawProcessAccess:
		return core.KindProcessAccess, true
	case rawFileCreate:
		return core.KindFileCreate, true
	case rawRegistryAdd, rawRegistrySet, rawRegistryRename:
		return core.KindRegistryWrite, true
	case rawDnsQuery:
		return core.KindDnsQuery, true
	default:
		return core.KindOther, false
	}
}

func parsePID(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func setAttr(ev *core.BehaviorEvent, key, value string) {
	if value != "" {
		ev.Attrs[key] = value
	}
}
