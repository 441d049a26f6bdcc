// Package heuristics holds the hand-authored indicator rules. Each rule
// inspects a single event and yields score deltas; the store applies them.
// Rules never touch shared state, which keeps evaluation safe to run inline
// on the ingestion path.
package heuristics

import (
	"path/filepath"
	"strings"

	"github.com/procwarden-project/procwarden/internal/core"
)

// Indicator names. These key the per-process indicator counters and the
// mitigation coordinator's breakdown stats.
const (
	IndicatorInjection        = "injection"
	IndicatorCriticalAccess   = "critical_process_access"
	IndicatorAICommunication  = "ai_communication"
	IndicatorPersistence      = "persistence"
	IndicatorSuspiciousDrop   = "suspicious_file_drop"
	IndicatorProcessTampering = "process_tampering"
)

// Score deltas per indicator. Code injection and tampering are
// tolerance-zero primitives: they carry both the largest deltas and an
// immediate analysis request.
const (
	deltaInjection       = 50
	deltaCriticalAccess  = 30
	deltaAICommunication = 60
	deltaPersistence     = 25
	deltaDropExecutable  = 15
	deltaDropWritableDir = 20
	deltaTampering       = 50
)

// Registry paths whose modification signals autorun-style persistence.
var autorunKeyFragments = []string{
	`\currentversion\run`,
	`\currentversion\runonce`,
	`\currentversion\winlogon`,
	`\currentversion\policies\explorer\run`,
}

// Finding is one raised indicator: a name, a score delta, and whether it
// demands analysis ahead of the next sweep tick.
type Finding struct {
	Indicator string
	Delta     int
	Immediate bool
	Evidence  map[string]string
}

// Engine evaluates indicator rules against events. Configured once, then
// read-only; safe for concurrent use.
type Engine struct {
	critical   map[string]struct{}
	aiKeywords []string
	suspExt    map[string]struct{}
	suspDirs   []string
}

// New builds an Engine from the detection rule data.
func New(cfg *core.DetectionConfig) *Engine {
	e := &Engine{
		critical:   make(map[string]struct{}, len(cfg.CriticalProcesses)),
		aiKeywords: make([]string, 0, len(cfg.AIKeywords)),
		suspExt:    make(map[string]struct{}, len(cfg.SuspiciousExtensions)),
		suspDirs:   make([]string, 0, len(cfg.SuspiciousDirs)),
	}
	for _, p := range cfg.CriticalProcesses {
		e.critical[strings.ToLower(p)] = struct{}{}
	}
	for _, k := range cfg.AIKeywords {
		e.aiKeywords = append(e.aiKeywords, strings.ToLower(k))
	}
	for _, x := range cfg.SuspiciousExtensions {
		e.suspExt[strings.ToLower(x)] = struct{}{}
	}
	for _, d := range cfg.SuspiciousDirs {
		e.suspDirs = append(e.suspDirs, strings.ToLower(d))
	}
	return e
}

// Evaluate runs all rules against one event. Multiple findings on the same
// event are all returned; deltas are additive up to the store's score
// ceiling.
func (e *Engine) Evaluate(ev *core.BehaviorEvent) []Finding {
	switch ev.Kind {
	case core.KindRemoteThreadCreate:
		return []Finding{{
			Indicator: IndicatorInjection,
			Delta:     deltaInjection,
			Immediate: true,
			Evidence:  map[string]string{"target_pid": ev.Attr(core.AttrTargetPID)},
		}}
	case core.KindProcessAccess:
		return e.evaluateProcessAccess(ev)
	case core.KindNetworkConnect:
		return e.evaluateDestination(ev, ev.Attr(core.AttrDestIP))
	case core.KindDnsQuery:
		return e.evaluateDestination(ev, ev.Attr(core.AttrQueryName))
	case core.KindRegistryWrite:
		return e.evaluateRegistryWrite(ev)
	case core.KindFileCreate:
		return e.evaluateFileCreate(ev)
	case core.KindProcessCreate, core.KindImageLoad, core.KindOther:
		return nil
	}
	return nil
}

// Tampering reports the image-swap-after-start signal. The swap itself is
// observed by the store (it owns the prior image); this just shapes the
// finding.
func Tampering(previousImage, newImage string) Finding {
	return Finding{
		Indicator: IndicatorProcessTampering,
		Delta:     deltaTampering,
		Immediate: true,
		Evidence: map[string]string{
			"previous_image": previousImage,
			"new_image":      newImage,
		},
	}
}

func (e *Engine) evaluateProcessAccess(ev *core.BehaviorEvent) []Finding {
	target := strings.ToLower(filepath.Base(ev.Attr(core.AttrTargetImage)))
	if target == "" || target == "." {
		return nil
	}
	if _, ok := e.critical[target]; !ok {
		return nil
	}
	return []Finding{{
		Indicator: IndicatorCriticalAccess,
		Delta:     deltaCriticalAccess,
		Immediate: true,
		Evidence:  map[string]string{"target_image": ev.Attr(core.AttrTargetImage)},
	}}
}

// evaluateDestination flags connects and DNS queries whose destination
// matches the configured automated-agent / generative-AI service keywords —
// the command-and-control channel of AI-driven implants.
func (e *Engine) evaluateDestination(ev *core.BehaviorEvent, dest string) []Finding {
	if dest == "" {
		return nil
	}
	lower := strings.ToLower(dest)
	for _, kw := range e.aiKeywords {
		if strings.Contains(lower, kw) {
			return []Finding{{
				Indicator: IndicatorAICommunication,
				Delta:     deltaAICommunication,
				Immediate: true,
				Evidence:  map[string]string{"destination": dest, "keyword": kw},
			}}
		}
	}
	return nil
}

func (e *Engine) evaluateRegistryWrite(ev *core.BehaviorEvent) []Finding {
	key := strings.ToLower(ev.Attr(core.AttrTargetKey))
	if key == "" {
		return nil
	}
	for _, frag := range autorunKeyFragments {
		if strings.Contains(key, frag) {
			return []Finding{{
				Indicator: IndicatorPersistence,
				Delta:     deltaPersistence,
				Evidence:  map[string]string{"target_key": ev.Attr(core.AttrTargetKey)},
			}}
		}
	}
	return nil
}

func (e *Engine) evaluateFileCreate(ev *core.BehaviorEvent) []Finding {
	target := ev.Attr(core.AttrTargetFile)
	if target == "" {
		return nil
	}
	lower := strings.ToLower(target)

	inWritableDir := false
	for _, dir := range e.suspDirs {
		if strings.Contains(lower, dir) {
			inWritableDir = true
			break
		}
	}
	_, execLike := e.suspExt[filepath.Ext(lower)]

	if !inWritableDir && !execLike {
		return nil
	}

	// A drop into a world-writable staging dir outranks extension alone.
	delta := deltaDropExecutable
	if inWritableDir {
		delta = deltaDropWritableDir
	}
	return []Finding{{
		Indicator: IndicatorSuspiciousDrop,
		Delta:     delta,
		Evidence:  map[string]string{"target_file": target},
	}}
}
