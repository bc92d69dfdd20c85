package nodes

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"pflow/internal/api"
	"pflow/internal/node"
	"pflow/pkg/logging"
)

type shellNode struct {
	node.Base
}

func newShellNode(id string, params map[string]any, policy node.RetryPolicy) node.NodeRunner {
	return &shellNode{Base: node.NewBase(id, "shell", params, policy)}
}

type shellPrep struct {
	command      string
	workdir      string
	timeout      time.Duration
	allowNonzero bool
}

func (n *shellNode) Prep(ctx context.Context, store node.Store) (any, error) {
	params := n.Params()
	command, _ := params["command"].(string)
	if command == "" {
		return nil, api.NewError(api.ErrNodeRuntime, "shell node %q requires a command param", n.ID())
	}
	prep := &shellPrep{command: command}
	if wd, ok := params["workdir"].(string); ok {
		prep.workdir = wd
	}
	if t, ok := asInt(params["timeout"]); ok && t > 0 {
		prep.timeout = time.Duration(t) * time.Second
	}
	if a, ok := params["allow_nonzero"].(bool); ok {
		prep.allowNonzero = a
	}
	return prep, nil
}

type shellResult struct {
	stdout   string
	stderr   string
	exitCode int
}

func (n *shellNode) Exec(ctx context.Context, prepRes any) (any, error) {
	prep := prepRes.(*shellPrep)
	if prep.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, prep.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", prep.command)
	cmd.Dir = prep.workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debug("ShellNode", "running: %s", prep.command)
	err := cmd.Run()
	res := &shellResult{stdout: stdout.String(), stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			return nil, api.NewError(api.ErrNodeTimeout, "command timed out after %s", prep.timeout).
				WithDetail("raw_response", truncate(res.stderr, 2048))
		case errors.As(err, &exitErr):
			res.exitCode = exitErr.ExitCode()
			if !prep.allowNonzero {
				return nil, api.NewError(api.ErrNodeRuntime, "command exited with status %d", res.exitCode).
					WithDetail("status_code", res.exitCode).
					WithDetail("raw_response", truncate(res.stderr, 2048))
			}
		default:
			return nil, api.WrapError(api.ErrNodeRuntime, err, "failed to run command")
		}
	}
	return res, nil
}

func (n *shellNode) Post(ctx context.Context, store node.Store, prepRes, execRes any) (string, error) {
	res := execRes.(*shellResult)
	store.Set("stdout", res.stdout)
	store.Set("stderr", res.stderr)
	store.Set("exit_code", int64(res.exitCode))
	store.Set("result", res.stdout)
	return node.DefaultAction, nil
}

func (n *shellNode) Clone() node.NodeRunner {
	return &shellNode{Base: n.CloneBase()}
}
