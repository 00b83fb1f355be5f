package docker

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YasodaLAE/transformer/internal/domain/process"
)

type recordingSpawner struct {
	req process.Request
	res process.Result
}

func (s *recordingSpawner) SpawnAndCapture(_ context.Context, req process.Request) (process.Result, error) {
	s.req = req
	return s.res, nil
}

func TestSpawnAndCaptureWrapsArgv(t *testing.T) {
	root := t.TempDir()
	models := filepath.Join(root, "models")
	uploads := filepath.Join(root, "uploads")
	inner := &recordingSpawner{res: process.Result{ExitCode: 3, Stdout: []byte("{}")}}
	r := NewRunner("registry.local/detector:1", inner, uploads, models)
	r.ExtraArgs = []string{"--gpus", "all"}
	var tee bytes.Buffer

	res, err := r.SpawnAndCapture(context.Background(), process.Request{
		Argv:   []string{"python", "detector.py", uploads + "/a.jpg"},
		Env:    []string{"DETECTOR_MODEL_PATH=" + models + "/ft.pt", "BROKEN"},
		Stdout: &tee,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode, "exit code passes through")

	assert.Equal(t, []string{
		"docker", "run", "--rm", "-i",
		"-v", models + ":" + models,
		"-v", uploads + ":" + uploads,
		"-e", "DETECTOR_MODEL_PATH=" + models + "/ft.pt",
		"--gpus", "all",
		"registry.local/detector:1",
		"python", "detector.py", uploads + "/a.jpg",
	}, inner.req.Argv)
	assert.Empty(t, inner.req.Env, "env goes into the container, not the docker CLI")
	assert.Same(t, &tee, inner.req.Stdout)
}

func TestSpawnAndCaptureRejectsBadRequests(t *testing.T) {
	inner := &recordingSpawner{}

	_, err := NewRunner("", inner).SpawnAndCapture(context.Background(), process.Request{Argv: []string{"x"}})
	assert.Error(t, err)

	_, err = NewRunner("img", inner).SpawnAndCapture(context.Background(), process.Request{})
	assert.Error(t, err)
	assert.Nil(t, inner.req.Argv)
}
