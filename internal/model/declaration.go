package model

import (
	"fmt"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// RejectionAction is what the rejection policy does after a quality gate
// rejects a phase's output.
type RejectionAction string

const (
	ActionRetry    RejectionAction = "retry"
	ActionSkip     RejectionAction = "skip"
	ActionFail     RejectionAction = "fail"
	ActionEscalate RejectionAction = "escalate"
)

// DefaultGateRetries is the rejection retry budget when a declaration
// does not set max_retries.
const DefaultGateRetries = 2

// PhaseDeclaration is one entry of a project's phases.yaml (or of a
// sub-plan artifact emitted by a planning phase).
type PhaseDeclaration struct {
	ID             string           `yaml:"id"`
	Name           string           `yaml:"name,omitempty"`
	Kind           string           `yaml:"kind,omitempty"`
	Model          string           `yaml:"model,omitempty"`
	TimeoutSeconds int              `yaml:"timeout_seconds,omitempty"`
	InputFrom      InputFrom        `yaml:"input_from,omitempty"`
	QualityGate    *GateDeclaration `yaml:"quality_gate,omitempty"`
	OnRejection    *RejectionConfig `yaml:"on_rejection,omitempty"`
}

// DisplayName returns the human-readable name, falling back to the ID.
func (d PhaseDeclaration) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Timeout returns the declared timeout, or def when the declaration
// does not set one.
func (d PhaseDeclaration) Timeout(def time.Duration) time.Duration {
	if d.TimeoutSeconds > 0 {
		return time.Duration(d.TimeoutSeconds) * time.Second
	}
	return def
}

// InputSource names one upstream phase whose outputs feed this phase,
// optionally narrowed to glob patterns relative to that phase's output
// directory. Empty Patterns means everything.
type InputSource struct {
	PhaseID  string
	Patterns []string
}

// InputFrom is the normalized form of a declaration's input_from field.
// The YAML accepts three shapes and all collapse to a source list:
//
//	input_from: design
//	input_from: [design, review]
//	input_from:
//	  - design: ["*.yaml", "src/**"]
//	  - review
type InputFrom []InputSource

func (f *InputFrom) UnmarshalYAML(value *yamlv3.Node) error {
	switch value.Kind {
	case yamlv3.ScalarNode:
		var id string
		if err := value.Decode(&id); err != nil {
			return err
		}
		*f = InputFrom{{PhaseID: id}}
		return nil

	case yamlv3.SequenceNode:
		out := make(InputFrom, 0, len(value.Content))
		for _, item := range value.Content {
			src, err := decodeInputSource(item)
			if err != nil {
				return err
			}
			out = append(out, src...)
		}
		*f = out
		return nil

	case yamlv3.MappingNode:
		out, err := decodeInputMapping(value)
		if err != nil {
			return err
		}
		*f = out
		return nil
	}
	return fmt.Errorf("input_from: unsupported YAML node kind %d", value.Kind)
}

func decodeInputSource(node *yamlv3.Node) (InputFrom, error) {
	switch node.Kind {
	case yamlv3.ScalarNode:
		var id string
		if err := node.Decode(&id); err != nil {
			return nil, err
		}
		return InputFrom{{PhaseID: id}}, nil
	case yamlv3.MappingNode:
		return decodeInputMapping(node)
	}
	return nil, fmt.Errorf("input_from: element must be a phase id or a {phase: patterns} map")
}

// decodeInputMapping walks the mapping's node pairs directly so source
// order follows document order.
func decodeInputMapping(node *yamlv3.Node) (InputFrom, error) {
	if len(node.Content)%2 != 0 {
		return nil, fmt.Errorf("input_from: malformed mapping")
	}
	out := make(InputFrom, 0, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		var id string
		if err := node.Content[i].Decode(&id); err != nil {
			return nil, fmt.Errorf("input_from: phase id: %w", err)
		}
		var patterns []string
		if err := node.Content[i+1].Decode(&patterns); err != nil {
			return nil, fmt.Errorf("input_from: patterns for %q: %w", id, err)
		}
		out = append(out, InputSource{PhaseID: id, Patterns: patterns})
	}
	return out, nil
}

// PhaseIDs returns the upstream phase IDs in declaration order.
func (f InputFrom) PhaseIDs() []string {
	ids := make([]string, len(f))
	for i, src := range f {
		ids[i] = src.PhaseID
	}
	return ids
}

// GateDeclaration selects a registered quality gate and its parameters.
type GateDeclaration struct {
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params,omitempty"`
}

// RejectionConfig tells the rejection policy how to handle a gate
// rejection for this phase.
type RejectionConfig struct {
	Action            RejectionAction `yaml:"action"`
	TargetPhase       string          `yaml:"target_phase,omitempty"`
	MaxRetries        *int            `yaml:"max_retries,omitempty"`
	FeedbackTemplate  string          `yaml:"feedback_template,omitempty"`
	EscalationChannel string          `yaml:"escalation_channel,omitempty"`
}

// EffectiveMaxRetries resolves the rejection retry budget, applying the
// default for absent values. Safe on a nil receiver.
func (c *RejectionConfig) EffectiveMaxRetries() int {
	if c == nil || c.MaxRetries == nil {
		return DefaultGateRetries
	}
	return *c.MaxRetries
}
