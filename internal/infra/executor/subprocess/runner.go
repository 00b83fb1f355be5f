package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/YasodaLAE/transformer/internal/domain/process"
	"github.com/YasodaLAE/transformer/internal/logger"
)

// waitDelay bounds how long Wait keeps draining pipes after the process
// was killed by context cancellation.
const waitDelay = 5 * time.Second

// Runner implements process.Spawner with os/exec.
type Runner struct {
	log *zap.Logger
}

var _ process.Spawner = (*Runner)(nil)

func NewRunner(log *zap.Logger) *Runner {
	return &Runner{log: logger.OrNop(log).Named("subprocess")}
}

// SpawnAndCapture runs req.Argv once, no retry.
func (r *Runner) SpawnAndCapture(ctx context.Context, req process.Request) (process.Result, error) {
	if len(req.Argv) == 0 {
		return process.Result{}, errors.New("empty argv")
	}
	start := time.Now()

	cmd := exec.CommandContext(ctx, req.Argv[0], req.Argv[1:]...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, req.Stdout)
	cmd.Stderr = tee(&stderr, req.Stderr)

	r.log.Debug("spawn", zap.Strings("argv", req.Argv))
	err := cmd.Run()

	res := process.Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", req.Argv[0], ctxErr)
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run error: %v, stderr=%s", err, stderr.String())
	}
	r.log.Debug("exited",
		zap.String("program", req.Argv[0]),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func tee(buf *bytes.Buffer, extra io.Writer) io.Writer {
	if extra == nil {
		return buf
	}
	return io.MultiWriter(buf, extra)
}
