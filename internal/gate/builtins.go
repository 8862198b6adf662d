package gate

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/uke16/Helix-sub002/internal/model"
)

// Built-in gate types addressable from phases.yaml.
const (
	TypeFileExists     = "file_exists"
	TypeOutputNotEmpty = "output_not_empty"
	TypeContentMatch   = "content_match"
)

// checkFileExists passes when every named file exists under outputDir.
// Accepts either "path" (string) or "paths" (list of strings).
func checkFileExists(_ context.Context, outputDir string, params map[string]any) (*model.GateResult, error) {
	paths, err := pathsParam(params)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, rel := range paths {
		info, err := os.Stat(filepath.Join(outputDir, rel))
		if err != nil || info.IsDir() {
			missing = append(missing, rel)
		}
	}

	if len(missing) > 0 {
		issues := make([]any, 0, len(missing))
		for _, m := range missing {
			issues = append(issues, fmt.Sprintf("required file %s was not produced", m))
		}
		return &model.GateResult{
			Passed:  false,
			Message: fmt.Sprintf("%d of %d required files missing", len(missing), len(paths)),
			Details: map[string]any{"issues": issues, "missing": missing},
		}, nil
	}

	return &model.GateResult{
		Passed:  true,
		Message: fmt.Sprintf("all %d required files present", len(paths)),
	}, nil
}

// checkOutputNotEmpty passes when the phase produced at least one
// regular file. An optional "min_files" raises the threshold.
func checkOutputNotEmpty(_ context.Context, outputDir string, params map[string]any) (*model.GateResult, error) {
	minFiles := 1
	if raw, ok := params["min_files"]; ok {
		n, ok := asInt(raw)
		if !ok || n < 1 {
			return nil, fmt.Errorf("min_files must be a positive integer, got %v", raw)
		}
		minFiles = n
	}

	count := 0
	err := filepath.WalkDir(outputDir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("scan output dir: %w", err)
	}

	if count < minFiles {
		return &model.GateResult{
			Passed:  false,
			Message: fmt.Sprintf("phase produced %d output files, expected at least %d", count, minFiles),
			Details: map[string]any{
				"issues": []any{fmt.Sprintf("expected at least %d output files, found %d", minFiles, count)},
			},
		}, nil
	}

	return &model.GateResult{
		Passed:  true,
		Message: fmt.Sprintf("phase produced %d output files", count),
		Details: map[string]any{"file_count": count},
	}, nil
}

// checkContentMatch passes when the regular expression in "pattern"
// matches the content of at least one output file. An optional "files"
// glob restricts which files are inspected.
func checkContentMatch(_ context.Context, outputDir string, params map[string]any) (*model.GateResult, error) {
	pattern, ok, err := stringParam(params, "pattern")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("content_match requires a pattern parameter")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	glob, _, err := stringParam(params, "files")
	if err != nil {
		return nil, err
	}

	inspected := 0
	matched := false
	walkErr := filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if matched || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		if glob != "" {
			hit, err := filepath.Match(glob, rel)
			if err != nil {
				return fmt.Errorf("invalid files glob %q: %w", glob, err)
			}
			if !hit {
				// Also try the base name so "*.md" finds nested files.
				if hit, _ = filepath.Match(glob, filepath.Base(rel)); !hit {
					return nil
				}
			}
		}
		inspected++
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if re.Match(data) {
			matched = true
		}
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return nil, fmt.Errorf("scan output dir: %w", walkErr)
	}

	if !matched {
		return &model.GateResult{
			Passed:  false,
			Message: fmt.Sprintf("pattern %q not found in %d inspected files", pattern, inspected),
			Details: map[string]any{
				"issues": []any{fmt.Sprintf("no output file matches pattern %q", pattern)},
			},
		}, nil
	}

	return &model.GateResult{
		Passed:  true,
		Message: fmt.Sprintf("pattern %q matched", pattern),
	}, nil
}

// pathsParam reads "path" or "paths" from gate params.
func pathsParam(params map[string]any) ([]string, error) {
	if raw, ok := params["path"]; ok {
		s, ok := raw.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("path must be a non-empty string, got %v", raw)
		}
		return []string{s}, nil
	}
	raw, ok := params["paths"]
	if !ok {
		return nil, fmt.Errorf("file_exists requires a path or paths parameter")
	}
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("paths must be a non-empty list, got %v", raw)
	}
	paths := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("paths entries must be non-empty strings, got %v", item)
		}
		paths = append(paths, s)
	}
	return paths, nil
}

func stringParam(params map[string]any, key string) (string, bool, error) {
	raw, ok := params[key]
	if !ok {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, fmt.Errorf("%s must be a string, got %v", key, raw)
	}
	return s, true, nil
}

// asInt accepts the integer shapes YAML decoding produces.
func asInt(raw any) (int, bool) {
	switch n := raw.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
