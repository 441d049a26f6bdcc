package heuristics

import (
	"testing"

	"github.com/procwarden-project/procwarden/internal/core"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return New(&core.DetectionConfig{
		CriticalProcesses:    []string{"lsass.exe", "winlogon.exe", "csrss.exe"},
		AIKeywords:           []string{"openai", "anthropic", "api.telegram"},
		SuspiciousExtensions: []string{".exe", ".dll", ".ps1"},
		SuspiciousDirs:       []string{`\temp\`, `\users\public\`},
	})
}

func event(t *testing.T, kind core.EventKind, attrs map[string]string) *core.BehaviorEvent {
	t.Helper()
	ev := core.NewBehaviorEvent(100, kind)
	for k, v := range attrs {
		ev.Attrs[k] = v
	}
	return ev
}

func TestEvaluate_Injection(t *testing.T) {
	e := testEngine(t)
	findings := e.Evaluate(event(t, core.KindRemoteThreadCreate, map[string]string{core.AttrTargetPID: "555"}))
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	f := findings[0]
	if f.Indicator != IndicatorInjection || f.Delta != 50 || !f.Immediate {
		t.Errorf("finding = %+v", f)
	}
	if f.Evidence["target_pid"] != "555" {
		t.Errorf("Evidence = %v", f.Evidence)
	}
}

func TestEvaluate_CriticalProcessAccess(t *testing.T) {
	e := testEngine(t)

	findings := e.Evaluate(event(t, core.KindProcessAccess,
		map[string]string{core.AttrTargetImage: `C:\Windows\System32\LSASS.EXE`}))
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	if f := findings[0]; f.Indicator != IndicatorCriticalAccess || f.Delta != 30 || !f.Immediate {
		t.Errorf("finding = %+v", f)
	}

	// Access to a non-critical target raises nothing.
	if got := e.Evaluate(event(t, core.KindProcessAccess,
		map[string]string{core.AttrTargetImage: `C:\Windows\System32\notepad.exe`})); got != nil {
		t.Errorf("non-critical access findings = %v, want none", got)
	}
}

func TestEvaluate_AICommunication(t *testing.T) {
	e := testEngine(t)

	tests := []struct {
		name string
		kind core.EventKind
		attr string
		key  string
		want bool
	}{
		{"dns to ai service", core.KindDnsQuery, "api.OpenAI.com", core.AttrQueryName, true},
		{"connect to telegram api", core.KindNetworkConnect, "api.telegram.org", core.AttrDestIP, true},
		{"plain dns", core.KindDnsQuery, "example.com", core.AttrQueryName, false},
		{"plain connect", core.KindNetworkConnect, "93.184.216.34", core.AttrDestIP, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := e.Evaluate(event(t, tt.kind, map[string]string{tt.key: tt.attr}))
			if tt.want {
				if len(findings) != 1 || findings[0].Indicator != IndicatorAICommunication ||
					findings[0].Delta != 60 || !findings[0].Immediate {
					t.Errorf("findings = %+v", findings)
				}
			} else if findings != nil {
				t.Errorf("findings = %+v, want none", findings)
			}
		})
	}
}

func TestEvaluate_Persistence(t *testing.T) {
	e := testEngine(t)

	findings := e.Evaluate(event(t, core.KindRegistryWrite,
		map[string]string{core.AttrTargetKey: `HKCU\Software\Microsoft\Windows\CurrentVersion\Run\updater`}))
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	if f := findings[0]; f.Indicator != IndicatorPersistence || f.Delta != 25 || f.Immediate {
		t.Errorf("finding = %+v", f)
	}

	if got := e.Evaluate(event(t, core.KindRegistryWrite,
		map[string]string{core.AttrTargetKey: `HKCU\Software\Vendor\Setting`})); got != nil {
		t.Errorf("benign registry write findings = %v, want none", got)
	}
}

func TestEvaluate_SuspiciousFileDrop(t *testing.T) {
	e := testEngine(t)

	tests := []struct {
		name      string
		file      string
		wantDelta int
	}{
		{"executable extension", `C:\data\tool.exe`, 15},
		{"drop into public dir", `C:\Users\Public\notes.txt`, 20},
		{"executable in public dir", `C:\Users\Public\payload.dll`, 20},
		{"benign file", `C:\data\report.txt`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := e.Evaluate(event(t, core.KindFileCreate, map[string]string{core.AttrTargetFile: tt.file}))
			if tt.wantDelta == 0 {
				if findings != nil {
					t.Errorf("findings = %+v, want none", findings)
				}
				return
			}
			if len(findings) != 1 {
				t.Fatalf("got %d findings, want 1", len(findings))
			}
			if f := findings[0]; f.Indicator != IndicatorSuspiciousDrop || f.Delta != tt.wantDelta || f.Immediate {
				t.Errorf("finding = %+v, want delta %d", f, tt.wantDelta)
			}
		})
	}
}

func TestEvaluate_UnremarkableKinds(t *testing.T) {
	e := testEngine(t)
	for _, kind := range []core.EventKind{core.KindProcessCreate, core.KindImageLoad, core.KindOther} {
		if got := e.Evaluate(event(t, kind, nil)); got != nil {
			t.Errorf("Evaluate(%v) = %v, want none", kind, got)
		}
	}
}

func TestTampering(t *testing.T) {
	f := Tampering(`C:\good.exe`, `C:\swapped.exe`)
	if f.Indicator != IndicatorProcessTampering || f.Delta != 50 || !f.Immediate {
		t.Errorf("finding = %+v", f)
	}
	if f.Evidence["previous_image"] != `C:\good.exe` || f.Evidence["new_image"] != `C:\swapped.exe` {
		t.Errorf("Evidence = %v", f.Evidence)
	}
}
