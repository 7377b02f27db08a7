package models

// ImageVariant is one named raster product of an analysis run.
type ImageVariant string

// The canonical raster variants produced for every analysis run, in display
// order. The analysis pipeline writes one PNG per variant under
// sent_images/, named exactly after the variant.
const (
	VariantHillshade   ImageVariant = "hillshade"
	VariantSlope       ImageVariant = "slope"
	VariantSVF         ImageVariant = "svf"
	VariantLocalRelief ImageVariant = "local_relief"
	VariantComposite   ImageVariant = "composite"
)

var canonicalVariants = []ImageVariant{
	VariantHillshade,
	VariantSlope,
	VariantSVF,
	VariantLocalRelief,
	VariantComposite,
}

// Variants returns the fixed ordered variant set. The returned slice is a
// copy; callers may not change the canonical order.
func Variants() []ImageVariant {
	out := make([]ImageVariant, len(canonicalVariants))
	copy(out, canonicalVariants)
	return out
}

// IsValidVariant reports whether name is one of the canonical variants.
func IsValidVariant(name string) bool {
	for _, v := range canonicalVariants {
		if string(v) == name {
			return true
		}
	}
	return false
}

// BoundingBoxPixel is an axis-aligned box in pixels of the original,
// full-resolution source image, origin at the top-left corner.
type BoundingBoxPixel struct {
	XMin int `json:"xMin"`
	YMin int `json:"yMin"`
	XMax int `json:"xMax"`
	YMax int `json:"yMax"`
}

// Width returns the box width in original-image pixels.
func (b BoundingBoxPixel) Width() int { return b.XMax - b.XMin }

// Height returns the box height in original-image pixels.
func (b BoundingBoxPixel) Height() int { return b.YMax - b.YMin }

// Classification is the type assigned to an anomaly by the detection model.
// Type is the filter key; Subtype is optional.
type Classification struct {
	Type    string  `json:"type"`
	Subtype *string `json:"subtype"`
}

// Confidence carries the model's global confidence plus a per-variant
// breakdown keyed by variant name.
type Confidence struct {
	Global       float64            `json:"global"`
	PerImageType map[string]float64 `json:"perImageType"`
}

// Anomaly is one AI-flagged candidate feature. BoundingBoxes may be empty:
// an anomaly can be described with no spatial evidence.
type Anomaly struct {
	ID                   string             `json:"id"`
	Classification       Classification     `json:"classification"`
	Confidence           Confidence         `json:"confidence"`
	EvidencePerImageType map[string]string  `json:"evidencePerImageType"`
	Interpretation       string             `json:"interpretation"`
	BoundingBoxes        []BoundingBoxPixel `json:"boundingBoxes"`
}

// Summary is the top-level result summary written by the detection pipeline.
type Summary struct {
	TargetAreaID      string `json:"targetAreaId"`
	AnomaliesDetected bool   `json:"anomaliesDetected"`
	AnomalyCount      int    `json:"anomalyCount"`
}

// AnalysisResult is the canonical dataset for one analysis run. It is
// immutable once loaded; filtering and report compilation read it, they
// never mutate it.
type AnalysisResult struct {
	Summary   Summary   `json:"summary"`
	Anomalies []Anomaly `json:"anomalies"`
}
