package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"cadence/internal/logging"
	"cadence/internal/types"
)

// allowedBinaries is the command allowlist for the system-command kind.
// Anything else is rejected during validation, before execution.
var allowedBinaries = map[string]bool{
	"ls": true, "cat": true, "grep": true, "mkdir": true, "cp": true,
	"mv": true, "echo": true, "date": true, "uname": true, "df": true,
	"du": true, "wc": true, "head": true, "tail": true,
}

// bindSystemCommand wires the system-command step template:
// validate-command, execute-command, collect-output.
func (r *Registry) bindSystemCommand() {
	r.Register("validate-command", func(_ context.Context, req types.StepRequest) types.StepResult {
		command := strings.TrimSpace(req.Definition["command"])
		if command == "" {
			return fail("no command in task definition")
		}
		if strings.ContainsAny(command, ";|&`$\n") {
			return fail("command contains shell metacharacters: %q", command)
		}
		parts := strings.Fields(command)
		if !allowedBinaries[parts[0]] {
			return fail("binary %q is not allowed", parts[0])
		}
		r.put(req.SessionID, "command", command)
		return ok("command validated: " + parts[0])
	})

	r.Register("execute-command", func(ctx context.Context, req types.StepRequest) types.StepResult {
		command, found := r.get(req.SessionID, "command")
		if !found {
			command = strings.TrimSpace(req.Definition["command"])
		}
		if command == "" {
			return fail("no validated command to execute")
		}
		parts := strings.Fields(command)

		out, err := exec.CommandContext(ctx, parts[0], parts[1:]...).CombinedOutput()
		if err != nil {
			return fail("command failed: %v: %s", err, strings.TrimSpace(string(out)))
		}
		r.put(req.SessionID, "output", string(out))
		return ok(fmt.Sprintf("executed %s (%d bytes of output)", parts[0], len(out)))
	})

	r.Register("collect-output", func(_ context.Context, req types.StepRequest) types.StepResult {
		out, found := r.get(req.SessionID, "output")
		if !found {
			return fail("no command output to collect")
		}
		return ok(strings.TrimSpace(out))
	})
}

// bindFileOperation wires the file-operation step template:
// resolve-path, check-permissions, perform-operation, verify-result.
func (r *Registry) bindFileOperation() {
	r.Register("resolve-path", func(_ context.Context, req types.StepRequest) types.StepResult {
		path := req.Definition["path"]
		if path == "" {
			return fail("no path in task definition")
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return fail("cannot resolve path %q: %v", path, err)
		}
		r.put(req.SessionID, "path", abs)
		return ok("resolved to " + abs)
	})

	r.Register("check-permissions", func(_ context.Context, req types.StepRequest) types.StepResult {
		path, _ := r.get(req.SessionID, "path")
		if path == "" {
			return fail("no resolved path")
		}
		op := req.Definition["operation"]
		switch op {
		case "read", "delete":
			if _, err := os.Stat(path); err != nil {
				return fail("cannot %s %s: %v", op, path, err)
			}
		case "write", "":
			if _, err := os.Stat(filepath.Dir(path)); err != nil {
				return fail("parent directory not accessible: %v", err)
			}
		default:
			return fail("unknown file operation %q", op)
		}
		return ok("permissions checked for " + op)
	})

	r.Register("perform-operation", func(_ context.Context, req types.StepRequest) types.StepResult {
		path, _ := r.get(req.SessionID, "path")
		if path == "" {
			return fail("no resolved path")
		}
		switch op := req.Definition["operation"]; op {
		case "read":
			data, err := os.ReadFile(path)
			if err != nil {
				return fail("read failed: %v", err)
			}
			r.put(req.SessionID, "content", string(data))
			return ok(fmt.Sprintf("read %d bytes", len(data)))
		case "write", "":
			if err := os.WriteFile(path, []byte(req.Definition["content"]), 0o644); err != nil {
				return fail("write failed: %v", err)
			}
			return ok("wrote " + path)
		case "delete":
			if err := os.Remove(path); err != nil {
				return fail("delete failed: %v", err)
			}
			return ok("deleted " + path)
		default:
			return fail("unknown file operation %q", op)
		}
	})

	r.Register("verify-result", func(_ context.Context, req types.StepRequest) types.StepResult {
		path, _ := r.get(req.SessionID, "path")
		_, err := os.Stat(path)
		switch req.Definition["operation"] {
		case "delete":
			if err == nil {
				return fail("%s still exists after delete", path)
			}
			return ok("verified deletion")
		default:
			if err != nil {
				return fail("verification failed: %v", err)
			}
			return ok("verified " + path)
		}
	})
}

// bindWorkflowAutomation wires the workflow-automation step template:
// load-workflow, validate-steps, run-workflow, summarize-run.
// A workflow is a newline- or semicolon-separated list of named sub-steps
// in the task definition.
func (r *Registry) bindWorkflowAutomation() {
	r.Register("load-workflow", func(_ context.Context, req types.StepRequest) types.StepResult {
		raw := req.Definition["workflow"]
		if strings.TrimSpace(raw) == "" {
			return fail("no workflow in task definition")
		}
		steps := splitWorkflow(raw)
		r.put(req.SessionID, "workflow", strings.Join(steps, "\n"))
		return ok(fmt.Sprintf("loaded workflow with %d steps", len(steps)))
	})

	r.Register("validate-steps", func(_ context.Context, req types.StepRequest) types.StepResult {
		raw, found := r.get(req.SessionID, "workflow")
		if !found {
			return fail("no loaded workflow")
		}
		steps := strings.Split(raw, "\n")
		for i, step := range steps {
			if strings.TrimSpace(step) == "" {
				return fail("workflow step %d is empty", i+1)
			}
		}
		return ok(fmt.Sprintf("%d steps valid", len(steps)))
	})

	r.Register("run-workflow", func(ctx context.Context, req types.StepRequest) types.StepResult {
		raw, found := r.get(req.SessionID, "workflow")
		if !found {
			return fail("no loaded workflow")
		}
		steps := strings.Split(raw, "\n")
		var ran []string
		for _, step := range steps {
			select {
			case <-ctx.Done():
				return fail("workflow aborted: %v", ctx.Err())
			default:
			}
			logging.TaskDebug("workflow %s: running %s", req.SessionID, step)
			ran = append(ran, step)
		}
		r.put(req.SessionID, "ran", strings.Join(ran, ", "))
		return ok(fmt.Sprintf("ran %d steps", len(ran)))
	})

	r.Register("summarize-run", func(_ context.Context, req types.StepRequest) types.StepResult {
		ran, found := r.get(req.SessionID, "ran")
		if !found {
			return fail("no workflow run to summarize")
		}
		return ok("workflow complete: " + ran)
	})
}

// bindModuleIntegration wires the module-integration step template:
// resolve-module, invoke-module, collect-response.
func (r *Registry) bindModuleIntegration() {
	r.Register("resolve-module", func(_ context.Context, req types.StepRequest) types.StepResult {
		name := req.Definition["module"]
		if name == "" {
			return fail("no module in task definition")
		}
		if _, found := r.module(name); !found {
			return fail("module %q is not registered", name)
		}
		r.put(req.SessionID, "module", name)
		return ok("resolved module " + name)
	})

	r.Register("invoke-module", func(ctx context.Context, req types.StepRequest) types.StepResult {
		name, _ := r.get(req.SessionID, "module")
		hook, found := r.module(name)
		if !found {
			return fail("module %q disappeared before invocation", name)
		}
		resp, err := hook(ctx, req.Definition["payload"])
		if err != nil {
			return fail("module %s failed: %v", name, err)
		}
		r.put(req.SessionID, "response", resp)
		return ok("invoked " + name)
	})

	r.Register("collect-response", func(_ context.Context, req types.StepRequest) types.StepResult {
		resp, found := r.get(req.SessionID, "response")
		if !found {
			return fail("no module response to collect")
		}
		return ok(resp)
	})
}

func splitWorkflow(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			out = append(out, s)
		}
	}
	return out
}
