package mitigate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/procwarden-project/procwarden/internal/core"
	"github.com/procwarden-project/procwarden/internal/store"
)

// EvidenceRecord is the write-once audit artifact for one positive
// verdict: the verdict, the process snapshot at decision time, and the
// wall clock at write time.
type EvidenceRecord struct {
	Detection  core.Verdict `json:"detection"`
	Process    store.Record `json:"process"`
	SystemTime time.Time    `json:"system_time"`
}

// EvidenceStore writes one JSON file per detection and, when archiving is
// enabled, appends each record as a gzip-compressed NDJSON line to a
// rolling daily archive.
type EvidenceStore struct {
	dir        string
	archiveDir string
	logger     zerolog.Logger

	mu sync.Mutex // serializes archive appends
}

// NewEvidenceStore creates the evidence directories. archiveDir may be
// empty to disable archiving.
func NewEvidenceStore(dir, archiveDir string, logger zerolog.Logger) (*EvidenceStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	if archiveDir != "" {
		if err := os.MkdirAll(archiveDir, 0o750); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}
	return &EvidenceStore{
		dir:        dir,
		archiveDir: archiveDir,
		logger:     logger.With().Str("component", "evidence").Logger(),
	}, nil
}

// Save persists the record and returns the evidence file path.
func (s *EvidenceStore) Save(rec *EvidenceRecord) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode evidence: %w", err)
	}

	// The verdict id keeps names unique when the same pid is detected
	// more than once within a second.
	name := fmt.Sprintf("detection_%d_%s_%s.json",
		rec.Detection.PID, rec.SystemTime.Format("20060102T150405"), rec.Detection.ID)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write evidence file: %w", err)
	}

	if s.archiveDir != "" {
		if err := s.archive(rec); err != nil {
			// Archive failure never invalidates the primary evidence file.
			s.logger.Warn().Err(err).Int("pid", rec.Detection.PID).Msg("evidence archive append failed")
		}
	}
	return path, nil
}

// archive appends the record as one NDJSON line to the day's gzip
// archive. Each append is its own gzip member, so partial writes from a
// crash do not corrupt earlier entries.
func (s *EvidenceStore) archive(rec *EvidenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("detections_%s.ndjson.gz", rec.SystemTime.Format("20060102"))
	f, err := os.OpenFile(filepath.Join(s.archiveDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	if err := enc.Encode(rec); err != nil {
		zw.Close()
		return fmt.Errorf("encode archive line: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}
	return f.Sync()
}
