package models

import (
	"fmt"
	"strings"
	"time"

	geojson "github.com/paulmach/go.geojson"
)

// ReportMetadata is derived from the analysis folder name and, when the run
// wrote one, augmented from request_log.json. It is built once per export
// and never persisted by this service.
type ReportMetadata struct {
	AnalysisFolder    string
	RegionName        string
	ModelName         string
	AnalysisTimestamp time.Time
	ReportUID         string
	Coordinates       *geojson.Geometry
	PromptText        string
	Images            []string
}

// RequestLog mirrors the optional request_log.json document the analysis
// pipeline leaves next to the result.
type RequestLog struct {
	Coordinates *geojson.Geometry `json:"coordinates"`
	Prompt      string            `json:"prompt"`
	Images      []string          `json:"images"`
}

// DateCompact returns the analysis date as YYYYMMDD, the form used in
// artifact filenames.
func (m *ReportMetadata) DateCompact() string {
	return m.AnalysisTimestamp.Format("20060102")
}

// ReportFileName is the deterministic HTML artifact name for this analysis.
// The backend keys persisted artifacts on it, so it must be stable across
// exports of the same run.
func (m *ReportMetadata) ReportFileName() string {
	return fmt.Sprintf("%s_%s_%s_anomaly_report.html", m.RegionName, m.DateCompact(), m.ReportUID)
}

// ApplyRequestLog folds the optional request log into the metadata.
func (m *ReportMetadata) ApplyRequestLog(rl *RequestLog) {
	if rl == nil {
		return
	}
	if rl.Coordinates != nil {
		m.Coordinates = rl.Coordinates
	}
	if rl.Prompt != "" {
		m.PromptText = rl.Prompt
	}
	if len(rl.Images) > 0 {
		m.Images = rl.Images
	}
}

// ParseAnalysisFolder parses the fixed analysis folder naming convention
// <Region>_<Model>_<YYYYMMDD>_<HHMMSS>_<UID>. Region names may themselves
// contain underscores ("Upper_Xingu"), so the trailing three segments are
// fixed and the model is the single segment right before the timestamp.
func ParseAnalysisFolder(folder string) (*ReportMetadata, error) {
	parts := strings.Split(folder, "_")
	if len(parts) < 5 {
		return nil, fmt.Errorf("analysis folder %q does not match <Region>_<Model>_<YYYYMMDD>_<HHMMSS>_<UID>", folder)
	}

	uid := parts[len(parts)-1]
	timePart := parts[len(parts)-2]
	datePart := parts[len(parts)-3]
	head := parts[:len(parts)-3]

	ts, err := time.Parse("20060102_150405", datePart+"_"+timePart)
	if err != nil {
		return nil, fmt.Errorf("analysis folder %q has invalid timestamp: %w", folder, err)
	}
	if uid == "" {
		return nil, fmt.Errorf("analysis folder %q has empty uid segment", folder)
	}

	model := head[len(head)-1]
	region := strings.Join(head[:len(head)-1], "_")
	if region == "" || model == "" {
		return nil, fmt.Errorf("analysis folder %q is missing region or model segment", folder)
	}

	return &ReportMetadata{
		AnalysisFolder:    folder,
		RegionName:        region,
		ModelName:         model,
		AnalysisTimestamp: ts,
		ReportUID:         uid,
	}, nil
}
