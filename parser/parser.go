// Package parser turns raw analysis documents into validated
// models.AnalysisResult values. Detection models occasionally wrap their
// JSON in markdown fences, so the extractor tolerates that before decoding.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"anomaly-report-service/models"
)

// DataShapeError means the document decoded as JSON but does not match the
// anomaly schema. Callers fall back to rendering the raw JSON rather than
// failing outright.
type DataShapeError struct {
	Reason string
	Raw    string
}

func (e *DataShapeError) Error() string {
	return "analysis document does not match anomaly schema: " + e.Reason
}

// extractJSONFromMarkdown extracts JSON from markdown code blocks.
func extractJSONFromMarkdown(response string) string {
	const marker = "```"

	startIdx := strings.Index(response, marker)
	if startIdx == -1 {
		// No code block, try to find a JSON object directly.
		startIdx = strings.Index(response, "{")
		if startIdx == -1 {
			return response
		}
		endIdx := strings.LastIndex(response, "}")
		if endIdx == -1 {
			return response
		}
		return strings.TrimSpace(response[startIdx : endIdx+1])
	}

	endIdx := strings.Index(response[startIdx+len(marker):], marker)
	if endIdx == -1 {
		return response
	}
	endIdx += startIdx + len(marker)

	content := response[startIdx+len(marker) : endIdx]

	// Drop the language identifier line if present (e.g. "json").
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) > 0 && (strings.TrimSpace(lines[0]) == "json" || strings.TrimSpace(lines[0]) == "") {
		content = strings.Join(lines[1:], "\n")
	}

	return strings.TrimSpace(content)
}

// ParseAnalysis parses an analysis document into an AnalysisResult.
// Box invariant violations collected during validation are returned
// alongside the result as data-quality problems: the result is still
// usable, the problems must be surfaced, and boxes are never clamped.
func ParseAnalysis(document string) (*models.AnalysisResult, []string, error) {
	cleaned := strings.TrimSpace(document)
	jsonContent := extractJSONFromMarkdown(cleaned)

	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(jsonContent), &result); err != nil {
		return nil, nil, &DataShapeError{Reason: err.Error(), Raw: cleaned}
	}

	problems, err := validate(&result)
	if err != nil {
		return nil, nil, &DataShapeError{Reason: err.Error(), Raw: cleaned}
	}
	return &result, problems, nil
}

func validate(result *models.AnalysisResult) ([]string, error) {
	if result.Summary.AnomalyCount != len(result.Anomalies) {
		return nil, fmt.Errorf("summary anomalyCount %d does not match %d anomalies",
			result.Summary.AnomalyCount, len(result.Anomalies))
	}

	var problems []string
	seen := make(map[string]bool, len(result.Anomalies))
	for i, a := range result.Anomalies {
		if a.ID == "" {
			return nil, fmt.Errorf("anomaly %d has no id", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate anomaly id %q", a.ID)
		}
		seen[a.ID] = true
		if a.Classification.Type == "" {
			return nil, fmt.Errorf("anomaly %q has no classification type", a.ID)
		}
		if a.Confidence.Global < 0 || a.Confidence.Global > 1 {
			return nil, fmt.Errorf("anomaly %q global confidence %f outside [0,1]", a.ID, a.Confidence.Global)
		}
		for variant, conf := range a.Confidence.PerImageType {
			if conf < 0 || conf > 1 {
				return nil, fmt.Errorf("anomaly %q confidence %f for %s outside [0,1]", a.ID, conf, variant)
			}
			if !models.IsValidVariant(variant) {
				problems = append(problems, fmt.Sprintf("anomaly %s: confidence for unknown variant %q", a.ID, variant))
			}
		}
		for j, box := range a.BoundingBoxes {
			if box.XMin < 0 || box.YMin < 0 || box.XMin >= box.XMax || box.YMin >= box.YMax {
				problems = append(problems, fmt.Sprintf("anomaly %s: box %d is malformed: %+v", a.ID, j, box))
			}
		}
	}
	return problems, nil
}
