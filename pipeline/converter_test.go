package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub027/models"
)

// runnerCall records one stubbed tool invocation, including the generated
// script's contents, which the caller deletes right after the run.
type runnerCall struct {
	tool   string
	args   []string
	script string
}

type stubRunner struct {
	t      *testing.T
	calls  []runnerCall
	handle func(call runnerCall) (*ExecResult, error)
}

func (s *stubRunner) Run(ctx context.Context, tool string, args []string, opts ExecOptions) (*ExecResult, error) {
	call := runnerCall{tool: tool, args: args}
	for i, a := range args {
		if a == "--python" && i+1 < len(args) {
			data, err := os.ReadFile(args[i+1])
			require.NoError(s.t, err, "script must exist while the tool runs")
			call.script = string(data)
		}
	}
	s.calls = append(s.calls, call)
	if s.handle != nil {
		return s.handle(call)
	}
	return &ExecResult{Stdout: successMarker + "\n"}, nil
}

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir(), "test-job", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(ws.Destroy)
	return ws
}

func writeInput(t *testing.T, ws *Workspace, name string, data []byte) string {
	t.Helper()
	path := ws.Path(name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestConverterToGLB(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t)
	input := writeInput(t, ws, "source.fbx", []byte("fbx"))

	runner := &stubRunner{t: t}
	runner.handle = func(call runnerCall) (*ExecResult, error) {
		require.NoError(t, os.WriteFile(ws.Path("model.glb"), []byte("binary gltf"), 0o644))
		return &ExecResult{Stdout: successMarker + "\n"}, nil
	}

	c := NewConverter(runner, "blender", ExecOptions{}, zap.NewNop())
	out, err := c.ToGLTF(context.Background(), ws, input, models.FormatFBX, models.FormatGLB)
	require.NoError(t, err)

	assert.Equal(t, ws.Path("model.glb"), out.OutputPath)
	assert.Equal(t, int64(len("binary gltf")), out.FileSize)

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, "blender", call.tool)
	assert.Contains(t, call.args, "--background")
	assert.Contains(t, call.args, "--factory-startup")
	assert.Contains(t, call.script, "import_scene.fbx")
	assert.Contains(t, call.script, "export_format='GLB'")

	// The generated script is removed once the invocation finishes.
	entries, err := os.ReadDir(ws.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "convert_gltf.py", e.Name())
	}
}

func TestConverterOBJImportOperator(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t)
	input := writeInput(t, ws, "source.obj", []byte("obj"))

	runner := &stubRunner{t: t}
	runner.handle = func(call runnerCall) (*ExecResult, error) {
		require.NoError(t, os.WriteFile(ws.Path("model.gltf"), []byte("{}"), 0o644))
		return &ExecResult{Stdout: successMarker + "\n"}, nil
	}

	c := NewConverter(runner, "blender", ExecOptions{}, zap.NewNop())
	_, err := c.ToGLTF(context.Background(), ws, input, models.FormatOBJ, models.FormatGLTF)
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0].script, "obj_import")
	assert.Contains(t, runner.calls[0].script, "GLTF_EMBEDDED")
}

func TestConverterExitZeroWithoutOutputFails(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t)
	input := writeInput(t, ws, "source.fbx", []byte("fbx"))

	// Exit 0, marker printed, but the engine never wrote the file.
	c := NewConverter(&stubRunner{t: t}, "blender", ExecOptions{}, zap.NewNop())
	_, err := c.ToGLTF(context.Background(), ws, input, models.FormatFBX, models.FormatGLB)
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrTool, kind)
}

func TestConverterFailureSentinel(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t)
	input := writeInput(t, ws, "source.fbx", []byte("fbx"))

	runner := &stubRunner{t: t}
	runner.handle = func(call runnerCall) (*ExecResult, error) {
		// Some engine builds exit 0 even when the embedded script raises.
		require.NoError(t, os.WriteFile(ws.Path("model.glb"), []byte("partial"), 0o644))
		return &ExecResult{Stdout: "Traceback (most recent call last)\n  ValueError: bad mesh\n"}, nil
	}

	c := NewConverter(runner, "blender", ExecOptions{}, zap.NewNop())
	_, err := c.ToGLTF(context.Background(), ws, input, models.FormatFBX, models.FormatGLB)
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrTool, kind)
}

func TestConverterMissingSuccessMarker(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t)
	input := writeInput(t, ws, "source.fbx", []byte("fbx"))

	runner := &stubRunner{t: t}
	runner.handle = func(call runnerCall) (*ExecResult, error) {
		return &ExecResult{Stdout: "Blender quit\n"}, nil
	}

	c := NewConverter(runner, "blender", ExecOptions{}, zap.NewNop())
	_, err := c.ToGLTF(context.Background(), ws, input, models.FormatFBX, models.FormatGLB)
	require.Error(t, err)
}

func TestConverterPropagatesRunnerError(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t)
	input := writeInput(t, ws, "source.fbx", []byte("fbx"))

	runner := &stubRunner{t: t}
	runner.handle = func(call runnerCall) (*ExecResult, error) {
		return &ExecResult{}, timeoutErr("exec", errors.New("blender killed after 5m0s"))
	}

	c := NewConverter(runner, "blender", ExecOptions{}, zap.NewNop())
	_, err := c.ToGLTF(context.Background(), ws, input, models.FormatFBX, models.FormatGLB)
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrTimeout, kind)
}

func TestConverterUnsupportedSource(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t)
	c := NewConverter(&stubRunner{t: t}, "blender", ExecOptions{}, zap.NewNop())
	_, err := c.ToGLTF(context.Background(), ws, ws.Path("x.usdz"), models.FormatUSDZ, models.FormatGLB)
	require.Error(t, err)

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrInput, kind)
}

func TestConverterToUSDZQuickLook(t *testing.T) {
	t.Parallel()

	ws := newTestWorkspace(t)
	input := writeInput(t, ws, "model.glb", []byte("glb"))

	runner := &stubRunner{t: t}
	runner.handle = func(call runnerCall) (*ExecResult, error) {
		require.NoError(t, os.WriteFile(ws.Path("model.usdz"), []byte("usdz zip"), 0o644))
		return &ExecResult{Stdout: successMarker + "\n"}, nil
	}

	c := NewConverter(runner, "blender", ExecOptions{}, zap.NewNop())
	out, err := c.ToUSDZ(context.Background(), ws, input, true)
	require.NoError(t, err)

	assert.Equal(t, ".usdz", filepath.Ext(out.OutputPath))
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0].script, "usd_export")
	assert.Contains(t, runner.calls[0].script, "convert_orientation=True")
}
