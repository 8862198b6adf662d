// Package planfile loads and validates phase declaration documents:
// the project's phases.yaml and sub-plan artifacts emitted by planning
// phases at runtime.
package planfile

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/uke16/Helix-sub002/internal/model"
)

// DeclarationFileName is the plan document at a project's root.
const DeclarationFileName = "phases.yaml"

// SubPlanFileName is the artifact a planning phase writes into its
// output directory to splice new phases into the run.
const SubPlanFileName = "plan.yaml"

type document struct {
	Phases []model.PhaseDeclaration `yaml:"phases"`
}

// Load reads and validates the project's phase declaration document.
// A missing or invalid document is a configuration error; the engine
// never starts a run on one.
func Load(projectDir string) ([]model.PhaseDeclaration, error) {
	path := filepath.Join(projectDir, DeclarationFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no phase declaration document at %s", path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parse(data, path, nil)
}

// LoadSubPlan reads a sub-plan artifact. known holds the phase IDs
// already in the run; a sub-plan redeclaring one is rejected, and its
// input_from may reference any known phase.
func LoadSubPlan(path string, known map[string]bool) ([]model.PhaseDeclaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sub-plan %s: %w", path, err)
	}
	return parse(data, path, known)
}

func parse(data []byte, path string, known map[string]bool) ([]model.PhaseDeclaration, error) {
	var doc document
	if err := yamlv3.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if errs := validate(doc.Phases, known); errs != nil {
		return nil, fmt.Errorf("invalid plan %s:\n%w", path, errs)
	}
	return doc.Phases, nil
}

// validate checks structure the engine depends on. Rejection policy
// contents (unknown actions, absent retry targets) are deliberately not
// rejected here; the rejection policy resolves those at decision time.
func validate(decls []model.PhaseDeclaration, known map[string]bool) *ValidationErrors {
	errs := &ValidationErrors{}

	if len(decls) == 0 {
		errs.Add("phases", "at least one phase is required")
		return errs
	}

	seen := make(map[string]bool, len(decls))
	for i, d := range decls {
		prefix := fmt.Sprintf("phases[%d]", i)

		if err := model.ValidatePhaseID(d.ID); err != nil {
			errs.Add(prefix+".id", err.Error())
			continue
		}
		if seen[d.ID] {
			errs.Add(prefix+".id", fmt.Sprintf("duplicate phase id %q", d.ID))
			continue
		}
		if known[d.ID] {
			errs.Add(prefix+".id", fmt.Sprintf("phase id %q already exists in the running plan", d.ID))
			continue
		}

		if d.TimeoutSeconds < 0 {
			errs.Add(prefix+".timeout_seconds", "must not be negative")
		}

		for _, src := range d.InputFrom {
			if src.PhaseID == d.ID {
				errs.Add(prefix+".input_from", fmt.Sprintf("phase %q cannot consume its own output", d.ID))
				continue
			}
			if !seen[src.PhaseID] && !known[src.PhaseID] {
				errs.Add(prefix+".input_from",
					fmt.Sprintf("references %q, which is not an earlier phase", src.PhaseID))
			}
		}

		if d.QualityGate != nil && d.QualityGate.Type == "" {
			errs.Add(prefix+".quality_gate.type", "required field is missing")
		}

		if rc := d.OnRejection; rc != nil && rc.Action == model.ActionRetry && rc.TargetPhase != "" {
			if !seen[rc.TargetPhase] && !known[rc.TargetPhase] && rc.TargetPhase != d.ID {
				errs.Add(prefix+".on_rejection.target_phase",
					fmt.Sprintf("references unknown phase %q", rc.TargetPhase))
			}
		}

		seen[d.ID] = true
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
