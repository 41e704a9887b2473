package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub027/models"
)

// sizeRegressionTolerance flags stages whose output grows beyond this
// factor of the input. Growth past it is logged, never silent.
const sizeRegressionTolerance = 1.10

// LODLevel is one generated level of detail.
type LODLevel struct {
	Name           string
	OutputPath     string
	FileSize       int64
	ReductionRatio float64
}

// LODResult is the outcome of a LOD generation pass.
type LODResult struct {
	Levels         []LODLevel
	ProcessingTime time.Duration
}

// DracoResult is the outcome of a Draco compression pass.
type DracoResult struct {
	OutputPath     string
	SourceSize     int64
	CompressedSize int64
	// Ratio is compressed/source, capped at 1.0; a regression past the
	// tolerance is flagged before capping.
	Ratio float64
}

// Optimizer runs the geometry/texture optimization stages on glTF/GLB
// assets through the same engine batch mode the converters use.
type Optimizer struct {
	runner     Runner
	toolPath   string
	opts       ExecOptions
	dracoLevel int
	logger     *zap.Logger
}

func NewOptimizer(runner Runner, toolPath string, opts ExecOptions, dracoLevel int, logger *zap.Logger) *Optimizer {
	return &Optimizer{
		runner:     runner,
		toolPath:   toolPath,
		opts:       opts,
		dracoLevel: dracoLevel,
		logger:     logger,
	}
}

// DefaultDracoLevel returns the configured compression level used when a
// job does not override it.
func (o *Optimizer) DefaultDracoLevel() int { return o.dracoLevel }

// GenerateLODs produces one output per level. A PolyReductionRatio of 0 is
// the full-quality baseline and must be a byte-identical copy with no
// tool invocation. For r > 0 the engine's decimation keep-ratio is 1-r:
// the tool takes "fraction to retain", the API takes "fraction to
// discard".
func (o *Optimizer) GenerateLODs(ctx context.Context, ws *Workspace, inputPath string, levels []models.LODSpec) (*LODResult, error) {
	if len(levels) == 0 {
		levels = models.DefaultLODLevels()
	}

	start := time.Now()
	inputSize := fileSize(inputPath)

	result := &LODResult{}
	for _, spec := range levels {
		if err := spec.Validate(); err != nil {
			return nil, inputErr("lod", err)
		}

		outputPath := ws.Path(spec.Name + ".glb")
		if spec.PolyReductionRatio == 0 {
			if err := copyFile(inputPath, outputPath); err != nil {
				return nil, toolErr("lod", fmt.Errorf("copy %s: %w", spec.Name, err))
			}
		} else {
			keep := 1 - spec.PolyReductionRatio
			if err := o.decimate(ctx, ws, inputPath, outputPath, spec.Name, keep); err != nil {
				return nil, err
			}
		}

		out, err := validateOutput("lod", outputPath)
		if err != nil {
			return nil, err
		}
		o.flagRegression("lod:"+spec.Name, inputSize, out.FileSize)

		result.Levels = append(result.Levels, LODLevel{
			Name:           spec.Name,
			OutputPath:     out.OutputPath,
			FileSize:       out.FileSize,
			ReductionRatio: spec.PolyReductionRatio,
		})
	}

	result.ProcessingTime = time.Since(start)
	return result, nil
}

func (o *Optimizer) decimate(ctx context.Context, ws *Workspace, inputPath, outputPath, name string, keepRatio float64) error {
	script := fmt.Sprintf(`import bpy
bpy.ops.wm.read_factory_settings(use_empty=True)
bpy.ops.import_scene.gltf(filepath=%s)
for obj in bpy.data.objects:
    if obj.type == 'MESH':
        mod = obj.modifiers.new(name='decimate', type='DECIMATE')
        mod.ratio = %s
bpy.ops.export_scene.gltf(filepath=%s, export_format='GLB', export_apply=True)
print(%s)
`, pyStr(inputPath), formatRatio(keepRatio), pyStr(outputPath), pyStr(successMarker))

	return runBatchScript(ctx, o.runner, o.toolPath, o.opts, ws, "lod_"+name+".py", script)
}

// DracoCompress re-exports the asset with Draco geometry compression at
// the given level (the configured default when level <= 0).
func (o *Optimizer) DracoCompress(ctx context.Context, ws *Workspace, inputPath string, level int) (*DracoResult, error) {
	if level <= 0 {
		level = o.dracoLevel
	}
	sourceSize := fileSize(inputPath)
	if sourceSize == 0 {
		return nil, inputErr("draco", fmt.Errorf("input %s is empty", inputPath))
	}

	outputPath := ws.Path("model.draco.glb")
	script := fmt.Sprintf(`import bpy
bpy.ops.wm.read_factory_settings(use_empty=True)
bpy.ops.import_scene.gltf(filepath=%s)
bpy.ops.export_scene.gltf(filepath=%s, export_format='GLB', export_draco_mesh_compression_enable=True, export_draco_mesh_compression_level=%d)
print(%s)
`, pyStr(inputPath), pyStr(outputPath), level, pyStr(successMarker))

	if err := runBatchScript(ctx, o.runner, o.toolPath, o.opts, ws, "draco.py", script); err != nil {
		return nil, err
	}

	out, err := validateOutput("draco", outputPath)
	if err != nil {
		return nil, err
	}

	o.flagRegression("draco", sourceSize, out.FileSize)

	ratio := float64(out.FileSize) / float64(sourceSize)
	if ratio > 1 {
		ratio = 1
	}
	return &DracoResult{
		OutputPath:     out.OutputPath,
		SourceSize:     sourceSize,
		CompressedSize: out.FileSize,
		Ratio:          ratio,
	}, nil
}

// CompressTextures re-encodes embedded textures. Running it on an asset
// whose textures are already compressed re-encodes them again, which is
// harmless.
func (o *Optimizer) CompressTextures(ctx context.Context, ws *Workspace, inputPath string) (*ConvertResult, error) {
	inputSize := fileSize(inputPath)
	outputPath := ws.Path("model.tex.glb")
	script := fmt.Sprintf(`import bpy
bpy.ops.wm.read_factory_settings(use_empty=True)
bpy.ops.import_scene.gltf(filepath=%s)
bpy.ops.export_scene.gltf(filepath=%s, export_format='GLB', export_image_format='WEBP')
print(%s)
`, pyStr(inputPath), pyStr(outputPath), pyStr(successMarker))

	if err := runBatchScript(ctx, o.runner, o.toolPath, o.opts, ws, "textures.py", script); err != nil {
		return nil, err
	}
	out, err := validateOutput("textures", outputPath)
	if err != nil {
		return nil, err
	}
	o.flagRegression("textures", inputSize, out.FileSize)
	return out, nil
}

// OptimizeMesh welds duplicate vertices and re-exports. Idempotent: a
// second pass finds nothing left to merge.
func (o *Optimizer) OptimizeMesh(ctx context.Context, ws *Workspace, inputPath string) (*ConvertResult, error) {
	inputSize := fileSize(inputPath)
	outputPath := ws.Path("model.opt.glb")
	script := fmt.Sprintf(`import bpy
bpy.ops.wm.read_factory_settings(use_empty=True)
bpy.ops.import_scene.gltf(filepath=%s)
for obj in bpy.data.objects:
    if obj.type == 'MESH':
        obj.modifiers.new(name='weld', type='WELD')
bpy.ops.export_scene.gltf(filepath=%s, export_format='GLB', export_apply=True)
print(%s)
`, pyStr(inputPath), pyStr(outputPath), pyStr(successMarker))

	if err := runBatchScript(ctx, o.runner, o.toolPath, o.opts, ws, "mesh.py", script); err != nil {
		return nil, err
	}
	out, err := validateOutput("mesh", outputPath)
	if err != nil {
		return nil, err
	}
	o.flagRegression("mesh", inputSize, out.FileSize)
	return out, nil
}

func (o *Optimizer) flagRegression(stage string, inputSize, outputSize int64) {
	if inputSize <= 0 {
		return
	}
	if float64(outputSize) > float64(inputSize)*sizeRegressionTolerance {
		o.logger.Warn("stage output larger than input",
			zap.String("stage", stage),
			zap.Int64("input_bytes", inputSize),
			zap.Int64("output_bytes", outputSize),
		)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func formatRatio(r float64) string {
	return strconv.FormatFloat(r, 'f', 4, 64)
}
