package models

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a conversion. Transitions are
// PENDING -> PROCESSING -> COMPLETED|FAILED; PROCESSING is never skipped.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Format identifies a 3D asset container handled by the pipeline.
type Format string

const (
	FormatFBX   Format = "fbx"
	FormatOBJ   Format = "obj"
	FormatGLTF  Format = "gltf"
	FormatGLB   Format = "glb"
	FormatUSDZ  Format = "usdz"
	FormatDraco Format = "draco"
)

// ParseFormat validates a wire-level format string.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatFBX, FormatOBJ, FormatGLTF, FormatGLB, FormatUSDZ, FormatDraco:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// IsGLTFFamily reports whether the format is already a glTF container and
// can feed the USDZ/Draco stages without a bridging conversion.
func (f Format) IsGLTFFamily() bool {
	return f == FormatGLTF || f == FormatGLB
}

// ConversionJob is the queue payload for one conversion. ConversionID is
// caller-supplied and doubles as the idempotency key for status updates.
type ConversionJob struct {
	ConversionID string    `json:"conversionId"`
	ModelID      string    `json:"modelId"`
	SourceFormat Format    `json:"sourceFormat"`
	TargetFormat Format    `json:"targetFormat"`
	SourceURL    string    `json:"sourceUrl"`
	Optimize     bool      `json:"optimize"`
	RetryCount   int       `json:"retryCount"`
	MaxRetries   int       `json:"maxRetries"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
	TimeoutSec   int       `json:"timeoutSec"`
}

// LODSpec describes one level of detail. PolyReductionRatio is the fraction
// of geometry to discard: 0 means an identity copy of the input.
type LODSpec struct {
	Name               string  `json:"name"`
	PolyReductionRatio float64 `json:"polyReductionRatio"`
}

// Validate checks the reduction ratio is in [0, 1).
func (l LODSpec) Validate() error {
	if l.PolyReductionRatio < 0 || l.PolyReductionRatio >= 1 {
		return fmt.Errorf("lod %q: polyReductionRatio %v outside [0,1)", l.Name, l.PolyReductionRatio)
	}
	if l.Name == "" {
		return fmt.Errorf("lod spec missing name")
	}
	return nil
}

// DefaultLODLevels is the chain used when a job supplies none.
func DefaultLODLevels() []LODSpec {
	return []LODSpec{
		{Name: "lod0", PolyReductionRatio: 0.0},
		{Name: "lod1", PolyReductionRatio: 0.5},
		{Name: "lod2", PolyReductionRatio: 0.8},
	}
}

// ArtifactExt maps a target format to the published file extension. Draco
// output stays a .glb container.
func ArtifactExt(target Format) (string, bool) {
	switch target {
	case FormatGLB, FormatDraco:
		return "glb", true
	case FormatGLTF:
		return "gltf", true
	case FormatUSDZ:
		return "usdz", true
	}
	return "", false
}

// ArtifactKey builds the deterministic storage key for a job's primary
// artifact: ar-models/{modelId}/{targetFormat}/model.{ext}.
func ArtifactKey(modelID string, target Format) (string, bool) {
	ext, ok := ArtifactExt(target)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("ar-models/%s/%s/model.%s", modelID, target, ext), true
}

// LODArtifactKey builds the storage key for one published LOD variant.
func LODArtifactKey(modelID string, target Format, lodName string) string {
	return fmt.Sprintf("ar-models/%s/%s/%s.glb", modelID, target, lodName)
}

// ArtifactContentType maps a target format to its MIME type.
func ArtifactContentType(target Format) (string, bool) {
	switch target {
	case FormatGLB, FormatDraco:
		return "model/gltf-binary", true
	case FormatGLTF:
		return "model/gltf+json", true
	case FormatUSDZ:
		return "model/vnd.usdz+zip", true
	}
	return "", false
}

// ModelURLColumn selects which column on the owning model record receives
// the published URL. The mapping is closed over valid targets so an update
// can never be built from an unchecked payload string.
func ModelURLColumn(target Format) (string, bool) {
	switch target {
	case FormatGLTF, FormatGLB:
		return "gltf_url", true
	case FormatUSDZ:
		return "usdz_url", true
	case FormatDraco:
		return "gltf_draco_url", true
	}
	return "", false
}
