// Package escalate persists quality gate escalations for human review
// and applies the recorded decisions back onto a project.
package escalate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/uke16/Helix-sub002/internal/logging"
	"github.com/uke16/Helix-sub002/internal/model"
	yamlutil "github.com/uke16/Helix-sub002/internal/yaml"
	yamlv3 "gopkg.in/yaml.v3"
)

// DirName is the escalation directory under the project state dir.
const DirName = "escalations"

// Status of an escalation record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Decision is the human verdict on an escalated phase.
type Decision string

const (
	DecisionRetry Decision = "retry"
	DecisionSkip  Decision = "skip"
	DecisionFail  Decision = "fail"
)

// ValidDecision reports whether d is one of the accepted verdicts.
func ValidDecision(d Decision) bool {
	switch d {
	case DecisionRetry, DecisionSkip, DecisionFail:
		return true
	}
	return false
}

// Record is one escalation file. Path is where it was loaded from and
// is not serialized.
type Record struct {
	SchemaVersion int              `yaml:"schema_version"`
	FileType      string           `yaml:"file_type"`
	Escalation    model.Escalation `yaml:"escalation"`
	Status        Status           `yaml:"status"`
	Decision      Decision         `yaml:"decision,omitempty"`
	DecidedAt     string           `yaml:"decided_at,omitempty"`

	Path string `yaml:"-"`
}

// Store reads and writes escalation records under helixDir/escalations.
type Store struct {
	helixDir string
	log      *logging.Logger
}

func NewStore(helixDir string, log *logging.Logger) *Store {
	return &Store{helixDir: helixDir, log: log.Named("escalate")}
}

// Dir returns the escalation directory.
func (s *Store) Dir() string {
	return filepath.Join(s.helixDir, DirName)
}

// Write persists a new pending record and returns its path.
func (s *Store) Write(esc *model.Escalation) (string, error) {
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		return "", fmt.Errorf("create escalation dir: %w", err)
	}

	rec := &Record{
		SchemaVersion: yamlutil.CurrentSchemaVersion,
		FileType:      yamlutil.FileTypeEscalation,
		Escalation:    *esc,
		Status:        StatusPending,
	}
	path := filepath.Join(s.Dir(), fmt.Sprintf("%s-%d.yaml", esc.PhaseID, time.Now().Unix()))
	if err := yamlutil.AtomicWrite(path, rec); err != nil {
		return "", fmt.Errorf("write escalation: %w", err)
	}

	s.log.Info("escalation recorded",
		zap.String("phase", esc.PhaseID),
		zap.String("path", path))
	return path, nil
}

// Load reads one record.
func (s *Store) Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read escalation %s: %w", path, err)
	}
	if err := yamlutil.ValidateSchemaHeaderFromBytes(data, yamlutil.FileTypeEscalation); err != nil {
		return nil, fmt.Errorf("escalation %s: %w", path, err)
	}
	var rec Record
	if err := yamlv3.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse escalation %s: %w", path, err)
	}
	rec.Path = path
	return &rec, nil
}

// List returns all records, oldest first. A missing directory is an
// empty list.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read escalation dir: %w", err)
	}

	var records []*Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		rec, err := s.Load(filepath.Join(s.Dir(), entry.Name()))
		if err != nil {
			s.log.Warn("skipping unreadable escalation", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}

// Pending returns unresolved records, oldest first.
func (s *Store) Pending() ([]*Record, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	pending := all[:0:0]
	for _, rec := range all {
		if rec.Status == StatusPending {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

// Resolve stamps a pending record with a decision.
func (s *Store) Resolve(path string, decision Decision) (*Record, error) {
	if !ValidDecision(decision) {
		return nil, fmt.Errorf("invalid decision %q (want retry, skip, or fail)", decision)
	}
	rec, err := s.Load(path)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, fmt.Errorf("escalation %s already resolved (%s at %s)", path, rec.Decision, rec.DecidedAt)
	}

	rec.Status = StatusResolved
	rec.Decision = decision
	rec.DecidedAt = model.NowUTC()
	if err := yamlutil.AtomicWrite(path, rec); err != nil {
		return nil, fmt.Errorf("write decision: %w", err)
	}

	s.log.Info("escalation resolved",
		zap.String("phase", rec.Escalation.PhaseID),
		zap.String("decision", string(decision)))
	return rec, nil
}
