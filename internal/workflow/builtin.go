package workflow

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// Simulated actions for the built-in deploy pipeline template. These stand in
// for real build/deploy integrations; each one suspends briefly like real I/O
// would. Replace individual step ids via the registry to plug in real work.

const builtinStepDelay = 10 * time.Millisecond

// RegisterBuiltins installs the simulated deploy pipeline actions.
func RegisterBuiltins(r *ActionRegistry) error {
	builtins := map[string]Action{
		"init":       initAction,
		"deps":       depsAction,
		"components": componentsAction,
		"build":      buildAction,
		"deploy":     deployAction,
	}
	for id, action := range builtins {
		if err := r.Register(id, action); err != nil {
			return err
		}
	}
	return nil
}

func simulateWork(ctx context.Context) error {
	select {
	case <-time.After(builtinStepDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func initAction(ctx context.Context, wf *Workflow, step *Step) (any, error) {
	if err := simulateWork(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"project": Slugify(wf.Name)}, nil
}

func depsAction(ctx context.Context, wf *Workflow, step *Step) (any, error) {
	if err := simulateWork(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"installed": true}, nil
}

func componentsAction(ctx context.Context, wf *Workflow, step *Step) (any, error) {
	if err := simulateWork(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"generated": true}, nil
}

func buildAction(ctx context.Context, wf *Workflow, step *Step) (any, error) {
	if err := simulateWork(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"artifact": Slugify(wf.Name) + ".tar.gz"}, nil
}

// deployAction is the designated result-producing step: its deployUrl output
// is lifted into the workflow-level result by the engine.
func deployAction(ctx context.Context, wf *Workflow, step *Step) (any, error) {
	if err := simulateWork(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"deployUrl": "https://" + Slugify(wf.Name) + ".operon.app"}, nil
}

// Slugify lowercases the name and collapses non-alphanumeric runs to single
// hyphens, for use in derived URLs.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "app"
	}
	return slug
}
