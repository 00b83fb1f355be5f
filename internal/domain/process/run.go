package process

import (
	"context"
	"io"
	"time"
)

// Request for a Spawner. Argv[0] is the program.
type Request struct {
	Argv []string
	// Env entries are appended to the parent environment.
	Env []string
	Dir string
	// Optional tees, written while the process runs.
	Stdout io.Writer
	Stderr io.Writer
}

// Result of a finished process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Spawner runs a process to completion and captures both streams.
// A non-zero exit is reported through ExitCode, not err; err means the
// process could not be started or ctx ended first.
type Spawner interface {
	SpawnAndCapture(ctx context.Context, req Request) (Result, error)
}
