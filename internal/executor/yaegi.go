package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cadence/internal/types"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// The custom task kind runs a user-supplied Go snippet through the yaegi
// interpreter instead of compiling it. The snippet must define
// func RunTask(input string) (string, error) and may import only the
// allowlisted stdlib packages: no filesystem, exec, or network access.

var allowedImports = map[string]bool{
	"strings":       true,
	"strconv":       true,
	"fmt":           true,
	"math":          true,
	"regexp":        true,
	"encoding/json": true,
	"time":          true,
	"sort":          true,
	"bytes":         true,
	"unicode":       true,
}

var importRe = regexp.MustCompile(`(?m)^\s*(?:import\s+)?"([^"]+)"`)

// bindCustom wires the custom step template: load-script, run-script,
// capture-result.
func (r *Registry) bindCustom() {
	r.Register("load-script", func(_ context.Context, req types.StepRequest) types.StepResult {
		script := req.Definition["script"]
		if strings.TrimSpace(script) == "" {
			return fail("no script in task definition")
		}
		if err := validateImports(script); err != nil {
			return fail("script rejected: %v", err)
		}
		r.put(req.SessionID, "script", script)
		return ok("script loaded")
	})

	r.Register("run-script", func(ctx context.Context, req types.StepRequest) types.StepResult {
		script, found := r.get(req.SessionID, "script")
		if !found {
			return fail("no loaded script")
		}
		input := req.Definition["input"]
		if v := req.Definition["user_response"]; v != "" {
			// A waiting task resumed with user input; the response wins.
			input = v
		}

		result, err := runScript(ctx, script, input)
		if err != nil {
			return fail("script failed: %v", err)
		}
		r.put(req.SessionID, "result", result)
		return ok("script ran")
	})

	r.Register("capture-result", func(_ context.Context, req types.StepRequest) types.StepResult {
		result, found := r.get(req.SessionID, "result")
		if !found {
			return fail("no script result to capture")
		}
		return ok(result)
	})
}

// validateImports rejects scripts importing anything off the allowlist.
func validateImports(script string) error {
	for _, match := range importRe.FindAllStringSubmatch(script, -1) {
		pkg := match[1]
		if !allowedImports[pkg] {
			return fmt.Errorf("import %q is not allowed", pkg)
		}
	}
	return nil
}

// runScript evaluates the snippet and calls main.RunTask, honoring ctx for
// cancellation. The interpreter goroutine is abandoned on timeout; yaegi
// has no preemption, so the snippet keeps its own goroutine until it
// returns.
func runScript(ctx context.Context, script, input string) (string, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("failed to load stdlib: %w", err)
	}

	if _, err := i.Eval(wrapScript(script)); err != nil {
		return "", fmt.Errorf("script evaluation failed: %w", err)
	}

	v, err := i.Eval("main.RunTask")
	if err != nil {
		return "", fmt.Errorf("RunTask function not found: %w", err)
	}
	runTask, castOK := v.Interface().(func(string) (string, error))
	if !castOK {
		return "", fmt.Errorf("RunTask has wrong signature, want func(string) (string, error)")
	}

	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		out, err := runTask(input)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- out
	}()

	select {
	case out := <-resultCh:
		return out, nil
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("script timed out: %w", ctx.Err())
	}
}

// wrapScript adds the package clause when the snippet omits it.
func wrapScript(script string) string {
	if strings.Contains(script, "package ") {
		return script
	}
	return "package main\n\n" + script
}
