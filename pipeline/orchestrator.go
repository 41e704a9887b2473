package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub027/models"
)

// Request is one conversion to route and execute.
type Request struct {
	SourceURL string
	Source    models.Format
	Target    models.Format
	Optimize  bool
}

// Result is the orchestrator's final artifact plus optimization metrics.
type Result struct {
	OutputPath string
	FileSize   int64
	// CompressionRatio is set for draco targets only (0 otherwise).
	CompressionRatio float64
	// LODs is populated for optimized glTF/GLB targets.
	LODs []LODLevel
}

type formatConverter interface {
	ToGLTF(ctx context.Context, ws *Workspace, inputPath string, source, container models.Format) (*ConvertResult, error)
	ToUSDZ(ctx context.Context, ws *Workspace, inputPath string, quickLookCompatible bool) (*ConvertResult, error)
}

type stageOptimizer interface {
	GenerateLODs(ctx context.Context, ws *Workspace, inputPath string, levels []models.LODSpec) (*LODResult, error)
	DracoCompress(ctx context.Context, ws *Workspace, inputPath string, level int) (*DracoResult, error)
	CompressTextures(ctx context.Context, ws *Workspace, inputPath string) (*ConvertResult, error)
	OptimizeMesh(ctx context.Context, ws *Workspace, inputPath string) (*ConvertResult, error)
}

type sourceFetcher interface {
	FetchSource(ctx context.Context, sourceURL, destPath string) (int64, error)
}

// Orchestrator routes a conversion request through the stage sequence:
// direct conversion for glTF/GLB targets, or bridging through an
// intermediate GLB for USDZ/Draco targets. The route is decided once per
// job and stages run strictly in order.
type Orchestrator struct {
	converter formatConverter
	optimizer stageOptimizer
	fetcher   sourceFetcher
	logger    *zap.Logger
}

func NewOrchestrator(converter formatConverter, optimizer stageOptimizer, fetcher sourceFetcher, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		converter: converter,
		optimizer: optimizer,
		fetcher:   fetcher,
		logger:    logger,
	}
}

// Run executes the full stage sequence inside ws. report receives coarse
// progress checkpoints (50 after intermediate conversion, 80 after
// optimization); the caller owns 10 (acceptance) and 100 (publish).
func (o *Orchestrator) Run(ctx context.Context, ws *Workspace, req Request, report func(int)) (*Result, error) {
	if report == nil {
		report = func(int) {}
	}
	if err := validateRoute(req.Source, req.Target); err != nil {
		return nil, err
	}

	sourcePath := ws.Path("source." + string(req.Source))
	if _, err := o.fetcher.FetchSource(ctx, req.SourceURL, sourcePath); err != nil {
		return nil, err
	}

	switch req.Target {
	case models.FormatUSDZ:
		glbPath, err := o.bridgeToGLB(ctx, ws, sourcePath, req, report)
		if err != nil {
			return nil, err
		}
		out, err := o.converter.ToUSDZ(ctx, ws, glbPath, true)
		if err != nil {
			return nil, err
		}
		report(80)
		return &Result{OutputPath: out.OutputPath, FileSize: out.FileSize}, nil

	case models.FormatDraco:
		glbPath, err := o.bridgeToGLB(ctx, ws, sourcePath, req, report)
		if err != nil {
			return nil, err
		}
		res, err := o.optimizer.DracoCompress(ctx, ws, glbPath, 0)
		if err != nil {
			return nil, err
		}
		report(80)
		return &Result{
			OutputPath:       res.OutputPath,
			FileSize:         res.CompressedSize,
			CompressionRatio: res.Ratio,
		}, nil

	case models.FormatGLTF, models.FormatGLB:
		out, err := o.converter.ToGLTF(ctx, ws, sourcePath, req.Source, req.Target)
		if err != nil {
			return nil, err
		}
		report(50)

		result := &Result{OutputPath: out.OutputPath, FileSize: out.FileSize}
		if req.Optimize {
			optimized, err := o.optimizePasses(ctx, ws, out.OutputPath)
			if err != nil {
				return nil, err
			}
			lods, err := o.optimizer.GenerateLODs(ctx, ws, optimized.OutputPath, nil)
			if err != nil {
				return nil, err
			}
			result.OutputPath = optimized.OutputPath
			result.FileSize = optimized.FileSize
			result.LODs = lods.Levels
		}
		report(80)
		return result, nil
	}

	// validateRoute keeps this unreachable.
	return nil, inputErr("route", fmt.Errorf("unsupported target %q", req.Target))
}

// bridgeToGLB resolves the glTF/GLB input the USDZ and Draco stages
// require: the downloaded file itself when the source is already glTF, or
// an intermediate GLB conversion otherwise. The intermediate artifact
// never becomes the job's final result.
func (o *Orchestrator) bridgeToGLB(ctx context.Context, ws *Workspace, sourcePath string, req Request, report func(int)) (string, error) {
	glbPath := sourcePath
	if !req.Source.IsGLTFFamily() {
		out, err := o.converter.ToGLTF(ctx, ws, sourcePath, req.Source, models.FormatGLB)
		if err != nil {
			return "", err
		}
		o.logger.Debug("bridged through intermediate glb",
			zap.String("source_format", string(req.Source)),
			zap.Int64("intermediate_bytes", out.FileSize),
		)
		glbPath = out.OutputPath
	}
	report(50)

	if req.Optimize {
		optimized, err := o.optimizePasses(ctx, ws, glbPath)
		if err != nil {
			return "", err
		}
		glbPath = optimized.OutputPath
	}
	return glbPath, nil
}

func (o *Orchestrator) optimizePasses(ctx context.Context, ws *Workspace, inputPath string) (*ConvertResult, error) {
	meshed, err := o.optimizer.OptimizeMesh(ctx, ws, inputPath)
	if err != nil {
		return nil, err
	}
	return o.optimizer.CompressTextures(ctx, ws, meshed.OutputPath)
}

func validateRoute(source, target models.Format) error {
	switch source {
	case models.FormatFBX, models.FormatOBJ, models.FormatGLTF, models.FormatGLB:
	default:
		return inputErr("route", fmt.Errorf("unsupported source format %q", source))
	}
	switch target {
	case models.FormatGLTF, models.FormatGLB, models.FormatUSDZ, models.FormatDraco:
		return nil
	}
	return inputErr("route", fmt.Errorf("unsupported format combination %s -> %s", source, target))
}
