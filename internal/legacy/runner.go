package legacy

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os/exec"
	"strings"
)

// Runner performs one request against a fresh worker.
type Runner interface {
	Run(ctx context.Context, req Request) (Response, error)
}

// ProcessRunner spawns a new operating-system process per request, so a
// crash or hang inside the database driver cannot take the daemon down.
// The process is killed when ctx expires.
type ProcessRunner struct {
	Path string
	Args []string
	Env  []string
}

func (p ProcessRunner) Run(ctx context.Context, req Request) (Response, error) {
	var stdin, stdout, stderr bytes.Buffer
	if err := gob.NewEncoder(&stdin).Encode(req); err != nil {
		return Response{}, fmt.Errorf("failed to encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.Path, p.Args...)
	if p.Env != nil {
		cmd.Env = p.Env
	}
	cmd.Stdin = &stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("worker killed: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return Response{}, fmt.Errorf("worker exited: %s", msg)
	}

	var resp Response
	if err := gob.NewDecoder(&stdout).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("failed to decode worker response: %w", err)
	}
	return resp, nil
}

// InProcessRunner executes requests on a goroutine of the current process.
// It contains panics but not hangs or driver crashes.
type InProcessRunner struct{}

func (InProcessRunner) Run(ctx context.Context, req Request) (Response, error) {
	done := make(chan Response, 1)
	go func() {
		done <- Execute(req)
	}()
	select {
	case resp := <-done:
		return resp, nil
	case <-ctx.Done():
		return Response{}, fmt.Errorf("worker abandoned: %w", ctx.Err())
	}
}
