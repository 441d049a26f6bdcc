package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBehaviorEvent_Token(t *testing.T) {
	tests := []struct {
		name  string
		kind  EventKind
		attrs map[string]string
		want  string
	}{
		{"process create", KindProcessCreate, nil, "CreateProcess"},
		{"connect", KindNetworkConnect, map[string]string{AttrDestIP: "10.0.0.5", AttrDestPort: "443"}, "connect:10.0.0.5:443"},
		{"connect without destination", KindNetworkConnect, nil, "connect"},
		{"image load", KindImageLoad, map[string]string{AttrImageLoaded: `C:\Windows\System32\kernel32.dll`}, "LoadLibrary:kernel32.dll"},
		{"image load missing name", KindImageLoad, nil, "LoadLibrary:unknown"},
		{"remote thread", KindRemoteThreadCreate, nil, "CreateRemoteThread"},
		{"process access", KindProcessAccess, map[string]string{AttrTargetImage: `C:\Windows\System32\lsass.exe`}, "OpenProcess:lsass.exe"},
		{"process access no target", KindProcessAccess, nil, "OpenProcess"},
		{"file create", KindFileCreate, map[string]string{AttrTargetFile: `C:\Users\Public\payload.exe`}, "CreateFile:.exe"},
		{"file create no extension", KindFileCreate, map[string]string{AttrTargetFile: `C:\Users\Public\payload`}, "CreateFile"},
		{"registry write", KindRegistryWrite, nil, "RegSetValue"},
		{"dns query", KindDnsQuery, map[string]string{AttrQueryName: "api.openai.com"}, "DnsQuery:api.openai.com"},
		{"unknown kind", KindOther, nil, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewBehaviorEvent(100, tt.kind)
			for k, v := range tt.attrs {
				ev.Attrs[k] = v
			}
			if got := ev.Token(); got != tt.want {
				t.Errorf("Token() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventKind_JSONRoundTrip(t *testing.T) {
	for _, kind := range []EventKind{
		KindProcessCreate, KindNetworkConnect, KindImageLoad,
		KindRemoteThreadCreate, KindProcessAccess, KindFileCreate,
		KindRegistryWrite, KindDnsQuery,
	} {
		data, err := json.Marshal(kind)
		if err != nil {
			t.Fatalf("Marshal(%v) error: %v", kind, err)
		}
		var back EventKind
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", data, err)
		}
		if back != kind {
			t.Errorf("round trip %v -> %s -> %v", kind, data, back)
		}
	}
}

func TestDecodeRawRecord(t *testing.T) {
	rec := &RawRecord{
		EventID:   1,
		Fields:    []string{"", "", "", "1234", `C:\evil.exe`},
		Computer:  "host-1",
		Timestamp: time.Now().UTC(),
	}
	data, err := rec.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	back, err := DecodeRawRecord(data)
	if err != nil {
		t.Fatalf("DecodeRawRecord() error: %v", err)
	}
	if back.EventID != 1 || back.Field(3) != "1234" {
		t.Errorf("DecodeRawRecord() = %+v", back)
	}

	if _, err := DecodeRawRecord([]byte("not json")); err == nil {
		t.Error("DecodeRawRecord() should fail on malformed input")
	}
}

func TestRawRecord_Field_ShortRecord(t *testing.T) {
	rec := &RawRecord{EventID: 1, Fields: []string{"a", "b"}}
	if got := rec.Field(10); got != "" {
		t.Errorf("Field(10) on short record = %q, want empty", got)
	}
	if got := rec.Field(-1); got != "" {
		t.Errorf("Field(-1) = %q, want empty", got)
	}
}
