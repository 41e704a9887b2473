package pipeline

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub027/models"
)

const (
	// successMarker is printed by every generated batch script as its last
	// statement. Exit code 0 without it means the engine swallowed a
	// failure, which some builds do on export errors.
	successMarker = "LUNEO_CONVERT_OK"

	// failureSentinel shows up in engine output when an embedded script
	// raised, even when the process still exits 0.
	failureSentinel = "Traceback (most recent call last)"
)

// ConvertResult is the outcome of one format conversion.
type ConvertResult struct {
	OutputPath string
	FileSize   int64
}

// Converter wraps the native engine's batch mode for format conversions.
// Each call generates a script inside the job workspace, runs the engine
// against it, and validates that a real output file was produced.
type Converter struct {
	runner   Runner
	toolPath string
	opts     ExecOptions
	logger   *zap.Logger
}

func NewConverter(runner Runner, toolPath string, opts ExecOptions, logger *zap.Logger) *Converter {
	return &Converter{runner: runner, toolPath: toolPath, opts: opts, logger: logger}
}

// ToGLTF converts an FBX or OBJ asset to a glTF container. The container
// argument selects .glb (binary) or .gltf (embedded JSON) output.
func (c *Converter) ToGLTF(ctx context.Context, ws *Workspace, inputPath string, source, container models.Format) (*ConvertResult, error) {
	importOp, err := importOperator(source)
	if err != nil {
		return nil, inputErr("convert", err)
	}

	var outputPath, exportFormat string
	switch container {
	case models.FormatGLB:
		outputPath = ws.Path("model.glb")
		exportFormat = "GLB"
	case models.FormatGLTF:
		outputPath = ws.Path("model.gltf")
		exportFormat = "GLTF_EMBEDDED"
	default:
		return nil, inputErr("convert", fmt.Errorf("unsupported glTF container %q", container))
	}

	script := fmt.Sprintf(`import bpy
bpy.ops.wm.read_factory_settings(use_empty=True)
%s(filepath=%s)
bpy.ops.export_scene.gltf(filepath=%s, export_format='%s')
print(%s)
`, importOp, pyStr(inputPath), pyStr(outputPath), exportFormat, pyStr(successMarker))

	if err := c.runScript(ctx, ws, "convert_gltf.py", script); err != nil {
		return nil, err
	}
	return validateOutput("convert", outputPath)
}

// ToUSDZ converts a glTF/GLB asset to USDZ. quickLookCompatible applies
// the export settings Apple Quick Look expects (y-up, meters, baked
// textures).
func (c *Converter) ToUSDZ(ctx context.Context, ws *Workspace, inputPath string, quickLookCompatible bool) (*ConvertResult, error) {
	outputPath := ws.Path("model.usdz")

	quickLookArgs := ""
	if quickLookCompatible {
		quickLookArgs = ", convert_orientation=True, export_textures=True"
	}

	script := fmt.Sprintf(`import bpy
bpy.ops.wm.read_factory_settings(use_empty=True)
bpy.ops.import_scene.gltf(filepath=%s)
bpy.ops.wm.usd_export(filepath=%s, export_materials=True%s)
print(%s)
`, pyStr(inputPath), pyStr(outputPath), quickLookArgs, pyStr(successMarker))

	if err := c.runScript(ctx, ws, "convert_usdz.py", script); err != nil {
		return nil, err
	}
	return validateOutput("convert", outputPath)
}

// runScript writes the batch script into the workspace, invokes the
// engine headless against it, and removes the script again whether or not
// the invocation succeeded.
func (c *Converter) runScript(ctx context.Context, ws *Workspace, name, script string) error {
	return runBatchScript(ctx, c.runner, c.toolPath, c.opts, ws, name, script)
}

func runBatchScript(ctx context.Context, runner Runner, toolPath string, opts ExecOptions, ws *Workspace, name, script string) error {
	scriptPath, err := ws.WriteScript(name, script)
	if err != nil {
		return toolErr("convert", err)
	}
	defer os.Remove(scriptPath)

	res, err := runner.Run(ctx, toolPath, []string{
		"--background",
		"--factory-startup",
		"--python", scriptPath,
	}, opts)
	if err != nil {
		return err
	}

	if strings.Contains(res.Stdout, failureSentinel) || strings.Contains(res.Stderr, failureSentinel) {
		return toolErr("convert", fmt.Errorf("engine script raised: %s", tail(res.Stderr+res.Stdout, 512)))
	}
	if !strings.Contains(res.Stdout, successMarker) {
		return toolErr("convert", fmt.Errorf("engine exited %d without completing %s", res.ExitCode, name))
	}
	return nil
}

// validateOutput rejects the exit-0-but-no-file case: a conversion only
// succeeded if a non-empty output exists.
func validateOutput(stage, path string) (*ConvertResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, toolErr(stage, fmt.Errorf("no output produced at %s: %w", path, err))
	}
	if info.Size() == 0 {
		return nil, toolErr(stage, fmt.Errorf("output %s is empty", path))
	}
	return &ConvertResult{OutputPath: path, FileSize: info.Size()}, nil
}

func importOperator(source models.Format) (string, error) {
	switch source {
	case models.FormatFBX:
		return "bpy.ops.import_scene.fbx", nil
	case models.FormatOBJ:
		return "bpy.ops.wm.obj_import", nil
	case models.FormatGLTF, models.FormatGLB:
		return "bpy.ops.import_scene.gltf", nil
	}
	return "", fmt.Errorf("unsupported source format %q", source)
}

// pyStr quotes a string for embedding in a generated Python script. Go's
// quoting rules are a superset of what these paths need.
func pyStr(s string) string {
	return strconv.Quote(s)
}
