// Package gate evaluates declared quality gates against a phase's
// output directory through a registry of named checkers.
package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/uke16/Helix-sub002/internal/model"
)

// Checker evaluates one gate type. Returning an error means the gate
// could not be evaluated at all (bad parameters, unreadable output) and
// is treated as a configuration fault, not a rejection.
type Checker interface {
	Check(ctx context.Context, outputDir string, params map[string]any) (*model.GateResult, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, outputDir string, params map[string]any) (*model.GateResult, error)

func (f CheckerFunc) Check(ctx context.Context, outputDir string, params map[string]any) (*model.GateResult, error) {
	return f(ctx, outputDir, params)
}

// Engine dispatches gate declarations to registered checkers. Repeated
// evaluations of the same outputs within one attempt are deduplicated
// by singleflight and served from a short-lived cache.
type Engine struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	cache    *resultCache
	group    singleflight.Group
}

// NewEngine creates an engine with the built-in checkers registered.
func NewEngine() *Engine {
	e := &Engine{
		checkers: make(map[string]Checker),
		cache:    newResultCache(256, 30*time.Second),
	}
	e.Register(TypeFileExists, CheckerFunc(checkFileExists))
	e.Register(TypeOutputNotEmpty, CheckerFunc(checkOutputNotEmpty))
	e.Register(TypeContentMatch, CheckerFunc(checkContentMatch))
	return e
}

// Register adds or replaces the checker for a gate type. Custom
// checkers registered here become addressable from phases.yaml.
func (e *Engine) Register(gateType string, c Checker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkers[gateType] = c
}

// Check evaluates decl against outputDir. A nil declaration passes:
// phases without a gate accept their output as-is. attempt
// distinguishes re-evaluations after a retry regenerated the outputs.
func (e *Engine) Check(ctx context.Context, outputDir string, decl *model.GateDeclaration, attempt int) (*model.GateResult, error) {
	if decl == nil {
		return &model.GateResult{Passed: true, Message: "no quality gate declared"}, nil
	}

	e.mu.RLock()
	checker, ok := e.checkers[decl.Type]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown quality gate type %q", decl.Type)
	}

	key, err := fingerprint(outputDir, decl, attempt)
	if err != nil {
		return nil, err
	}

	if cached := e.cache.get(key); cached != nil {
		return cached, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		return checker.Check(ctx, outputDir, decl.Params)
	})
	if err != nil {
		return nil, fmt.Errorf("quality gate %q: %w", decl.Type, err)
	}

	res := v.(*model.GateResult)
	res.GateType = decl.Type
	e.cache.set(key, res)
	return res, nil
}

// fingerprint keys an evaluation by target, gate identity, attempt, and
// the observed state of the output files, so a verdict computed against
// an earlier generation of the outputs is never replayed after a retry
// regenerates them. json.Marshal sorts map keys, so equal params hash
// equally.
func fingerprint(outputDir string, decl *model.GateDeclaration, attempt int) (string, error) {
	params, err := json.Marshal(decl.Params)
	if err != nil {
		return "", fmt.Errorf("quality gate %q: unserializable params: %w", decl.Type, err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", outputDir, decl.Type, params, attempt)
	if err := digestDir(h, outputDir); err != nil {
		return "", fmt.Errorf("quality gate %q: fingerprint outputs: %w", decl.Type, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// digestDir folds each regular file's relative path, size, and mtime
// into h. WalkDir visits entries in lexical order, so unchanged trees
// hash equally. A missing directory digests as empty.
func digestDir(h io.Writer, dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "|%s|%d|%d", rel, info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
