// Package docker runs the detector or trainer inside a container. Host
// paths are bind-mounted at the same location so argv stays valid.
package docker

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/YasodaLAE/transformer/internal/domain/process"
)

type Runner struct {
	Image string
	// Mounts are host directories, each mounted read-write at the same path.
	Mounts []string
	// ExtraArgs go between "run" and the image, e.g. [--gpus all].
	ExtraArgs []string

	// Exec spawns the docker CLI itself.
	Exec process.Spawner
}

var _ process.Spawner = (*Runner)(nil)

func NewRunner(image string, exec process.Spawner, mounts ...string) *Runner {
	return &Runner{Image: image, Exec: exec, Mounts: mounts}
}

// SpawnAndCapture wraps req.Argv in docker run. Exit codes of the
// containerised program pass through unchanged.
func (r *Runner) SpawnAndCapture(ctx context.Context, req process.Request) (process.Result, error) {
	if r.Image == "" {
		return process.Result{}, fmt.Errorf("docker runner: no image configured")
	}
	if len(req.Argv) == 0 {
		return process.Result{}, fmt.Errorf("docker runner: empty argv")
	}

	argv, err := r.argv(req)
	if err != nil {
		return process.Result{}, err
	}
	return r.Exec.SpawnAndCapture(ctx, process.Request{
		Argv:   argv,
		Stdout: req.Stdout,
		Stderr: req.Stderr,
	})
}

func (r *Runner) argv(req process.Request) ([]string, error) {
	argv := []string{"docker", "run", "--rm", "-i"}

	mounts := make([]string, 0, len(r.Mounts)+1)
	for _, m := range r.Mounts {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, fmt.Errorf("docker runner: mount %q: %w", m, err)
		}
		mounts = append(mounts, abs)
	}
	sort.Strings(mounts)
	for _, m := range mounts {
		argv = append(argv, "-v", m+":"+m)
	}

	if req.Dir != "" {
		argv = append(argv, "-w", req.Dir)
	}
	for _, kv := range req.Env {
		if !strings.Contains(kv, "=") {
			continue
		}
		argv = append(argv, "-e", kv)
	}
	argv = append(argv, r.ExtraArgs...)
	argv = append(argv, r.Image)
	return append(argv, req.Argv...), nil
}
