package core

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a normalized behavior event. The set is closed:
// anything the telemetry source emits that does not map onto one of these
// kinds is either dropped by the normalizer or folded into KindOther.
type EventKind int

const (
	KindProcessCreate EventKind = iota
	KindNetworkConnect
	KindImageLoad
	KindRemoteThreadCreate
	KindProcessAccess
	KindFileCreate
	KindRegistryWrite
	KindDnsQuery
	KindOther
)

func (k EventKind) String() string {
	switch k {
	case KindProcessCreate:
		return "process_create"
	case KindNetworkConnect:
		return "network_connect"
	case KindImageLoad:
		return "image_load"
	case KindRemoteThreadCreate:
		return "remote_thread_create"
	case KindProcessAccess:
		return "process_access"
	case KindFileCreate:
		return "file_create"
	case KindRegistryWrite:
		return "registry_write"
	case KindDnsQuery:
		return "dns_query"
	default:
		return "other"
	}
}

func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *EventKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "process_create":
		*k = KindProcessCreate
	case "network_connect":
		*k = KindNetworkConnect
	case "image_load":
		*k = KindImageLoad
	case "remote_thread_create":
		*k = KindRemoteThreadCreate
	case "process_access":
		*k = KindProcessAccess
	case "file_create":
		*k = KindFileCreate
	case "registry_write":
		*k = KindRegistryWrite
	case "dns_query":
		*k = KindDnsQuery
	default:
		*k = KindOther
	}
	return nil
}

// Attribute keys used on BehaviorEvent.Attrs. The normalizer only sets keys
// that were actually present in the raw record.
const (
	AttrImage       = "image"
	AttrCommandLine = "command_line"
	AttrParentImage = "parent_image"
	AttrDestIP      = "dest_ip"
	AttrDestPort    = "dest_port"
	AttrImageLoaded = "image_loaded"
	AttrTargetPID   = "target_pid"
	AttrTargetImage = "target_image"
	AttrTargetFile  = "target_file"
	AttrTargetKey   = "target_key"
	AttrQueryName   = "query_name"
)

// BehaviorEvent is one canonical, immutable behavioral observation for a
// single process. Produced once by the normalizer and never mutated after.
type BehaviorEvent struct {
	ID         string            `json:"id"`
	PID        int               `json:"pid"`
	Kind       EventKind         `json:"kind"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	ObservedAt time.Time         `json:"observed_at"`
}

// NewBehaviorEvent creates an event with a generated ID and UTC timestamp.
func NewBehaviorEvent(pid int, kind EventKind) *BehaviorEvent {
	return &BehaviorEvent{
		ID:         uuid.New().String(),
		PID:        pid,
		Kind:       kind,
		Attrs:      make(map[string]string),
		ObservedAt: time.Now().UTC(),
	}
}

// Attr returns the named attribute or "" when absent.
func (e *BehaviorEvent) Attr(key string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[key]
}

// Token renders the event as its canonical behavior token, the short string
// form accumulated in per-process buffers and consumed by the classifier.
// Examples: "CreateProcess", "connect:10.0.0.5:443", "LoadLibrary:kernel32.dll".
func (e *BehaviorEvent) Token() string {
	switch e.Kind {
	case KindProcessCreate:
		return "CreateProcess"
	case KindNetworkConnect:
		ip := e.Attr(AttrDestIP)
		if ip == "" {
			return "connect"
		}
		return fmt.Sprintf("connect:%s:%s", ip, e.Attr(AttrDestPort))
	case KindImageLoad:
		name := filepath.Base(e.Attr(AttrImageLoaded))
		if name == "" || name == "." {
			name = "unknown"
		}
		return "LoadLibrary:" + name
	case KindRemoteThreadCreate:
		return "CreateRemoteThread"
	case KindProcessAccess:
		if target := filepath.Base(e.Attr(AttrTargetImage)); target != "" && target != "." {
			return "OpenProcess:" + target
		}
		return "OpenProcess"
	case KindFileCreate:
		if ext := filepath.Ext(e.Attr(AttrTargetFile)); ext != "" {
			return "CreateFile:" + ext
		}
		return "CreateFile"
	case KindRegistryWrite:
		return "RegSetValue"
	case KindDnsQuery:
		if q := e.Attr(AttrQueryName); q != "" {
			return "DnsQuery:" + q
		}
		return "DnsQuery"
	default:
		return "Unknown"
	}
}

// Marshal serializes the event to JSON.
func (e *BehaviorEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// RawRecord is the wire form of one telemetry record as delivered by the
// external event source: a numeric event ID plus positional string fields.
// Field layouts follow the source's rendering; consumers must tolerate short
// or missing field arrays.
type RawRecord struct {
	EventID   int       `json:"event_id"`
	Fields    []string  `json:"fields"`
	Computer  string    `json:"computer,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Field returns the positional field at idx, or "" when the record is short.
func (r *RawRecord) Field(idx int) string {
	if idx < 0 || idx >= len(r.Fields) {
		return ""
	}
	return r.Fields[idx]
}

// Marshal serializes the raw record to JSON.
func (r *RawRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRawRecord deserializes a RawRecord from JSON.
func DecodeRawRecord(data []byte) (*RawRecord, error) {
	var rec RawRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Verdict is the outcome of one analysis pass over a single process. It is
// not retained as live state: the mitigation coordinator consumes it
// immediately and the evidence store may archive it.
type Verdict struct {
	ID                   string    `json:"id"`
	PID                  int       `json:"pid"`
	ClassifierLabel      string    `json:"classifier_label"`
	ClassifierConfidence float64   `json:"classifier_confidence"`
	HeuristicScore       int       `json:"heuristic_score"`
	FusedConfidence      float64   `json:"fused_confidence"`
	IsMalicious          bool      `json:"is_malicious"`
	ContributingTokens   []string  `json:"contributing_tokens"`
	DecidedAt            time.Time `json:"decided_at"`
}

// Marshal serializes the verdict to JSON.
func (v *Verdict) Marshal() ([]byte, error) {
	return json.Marshal(v)
}
