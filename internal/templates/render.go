package templates

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/brizzbuzz/oploader/internal/errors"
	"github.com/brizzbuzz/oploader/internal/fsutil"
	"github.com/brizzbuzz/oploader/internal/validation"
)

type Status int

const (
	Failed Status = iota
	Written
	Unchanged
)

func (s Status) String() string {
	switch s {
	case Written:
		return "written"
	case Unchanged:
		return "unchanged"
	default:
		return "failed"
	}
}

// RenderResult is the outcome for one template. Unresolved lists the
// placeholders that had no value; the target is untouched when it is set.
type RenderResult struct {
	Original   string
	Status     Status
	Unresolved []string
	Err        error
}

type Engine struct {
	log       zerolog.Logger
	validator *validation.Validator
	// variable name -> account whose resolution failed
	failed map[string]string
}

type EngineOption func(*Engine)

// WithFailedAccounts records the owning account of variables that could not
// be resolved, so their placeholders are reported as account failures rather
// than unmapped names.
func WithFailedAccounts(owners map[string]string) EngineOption {
	return func(e *Engine) { e.failed = owners }
}

func NewEngine(log zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{log: log, validator: validation.NewValidator()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Render substitutes values into t and writes the result to the original
// path. Nothing is written when a placeholder is unresolved or when the
// target already holds the rendered content.
func (e *Engine) Render(t *Template, values map[string]string) RenderResult {
	res := RenderResult{Original: t.Original}
	log := e.log.With().Str("path", t.Original).Logger()

	if err := e.validator.ValidateTemplateTarget(t.Original); err != nil {
		res.Err = err
		return res
	}

	rendered, unresolved := Substitute(t.Body, values)
	if len(unresolved) > 0 {
		res.Unresolved = unresolved
		res.Err = errors.UnresolvedError(t.Original, unresolved, e.failedAccounts(unresolved))
		log.Warn().Strs("unresolved", unresolved).Msg("template not rendered")
		return res
	}

	target := t.Original
	if resolved, err := filepath.EvalSymlinks(target); err == nil && resolved != target {
		if err := e.validator.ValidateTemplateTarget(resolved); err != nil {
			res.Err = err
			log.Warn().Str("target", resolved).Msg("symlink points at a protected location")
			return res
		}
		target = resolved
	}

	mode := os.FileMode(0600)
	current, err := os.ReadFile(target)
	switch {
	case err == nil:
		if bytes.Equal(current, rendered) {
			res.Status = Unchanged
			log.Debug().Msg("template unchanged")
			return res
		}
		if info, err := os.Stat(target); err == nil {
			mode = info.Mode().Perm()
		}
	case !os.IsNotExist(err):
		res.Err = errors.FileOperationError("Rendering template", target, "Failed to read current file", err)
		return res
	}

	if err := fsutil.WriteFileAtomic(target, rendered, mode); err != nil {
		res.Err = errors.FileOperationError("Rendering template", target, "Failed to write rendered file", err)
		return res
	}

	res.Status = Written
	log.Debug().Msg("template written")
	return res
}

func (e *Engine) failedAccounts(names []string) []string {
	seen := make(map[string]bool)
	var accounts []string
	for _, name := range names {
		if acct, ok := e.failed[name]; ok && !seen[acct] {
			seen[acct] = true
			accounts = append(accounts, acct)
		}
	}
	sort.Strings(accounts)
	return accounts
}

// RenderAll renders each template on its own; one failure never stops the
// rest.
func (e *Engine) RenderAll(ts []*Template, values map[string]string) []RenderResult {
	results := make([]RenderResult, 0, len(ts))
	for _, t := range ts {
		results = append(results, e.Render(t, values))
	}
	return results
}
