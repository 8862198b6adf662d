package model

import (
	"fmt"
	"regexp"
)

// Phase IDs double as directory names under phases/, so the alphabet is
// restricted to path-safe lowercase identifiers.
var phaseIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Project IDs appear in status files and log lines but never become
// nested paths, so dots and uppercase are tolerated.
var projectIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func ValidatePhaseID(id string) error {
	if id == "" {
		return fmt.Errorf("phase id is empty")
	}
	if !phaseIDRegex.MatchString(id) {
		return fmt.Errorf("invalid phase id %q: must match %s", id, phaseIDRegex.String())
	}
	return nil
}

func ValidateProjectID(id string) error {
	if id == "" {
		return fmt.Errorf("project id is empty")
	}
	if !projectIDRegex.MatchString(id) {
		return fmt.Errorf("invalid project id %q: must match %s", id, projectIDRegex.String())
	}
	return nil
}
