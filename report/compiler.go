// Package report compiles the full, unfiltered analysis result into one
// self-contained HTML document. Every raster is re-rendered through the
// overlay renderer and embedded as a data URI, so the artifact reproduces
// the on-screen view exactly and needs no external assets.
package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"image"
	"sync"
	"time"

	"github.com/apex/log"

	"anomaly-report-service/geometry"
	"anomaly-report-service/metrics"
	"anomaly-report-service/models"
	"anomaly-report-service/overlay"
	"anomaly-report-service/store"
)

// Renders per compile are bounded; an analysis run is at most a few dozen
// rasters but each decode+rescale holds full-resolution pixel data.
const maxConcurrentRenders = 4

// Compiler builds report HTML for analysis runs.
type Compiler struct {
	store *store.Store
	maxW  int
	maxH  int
}

// NewCompiler creates a compiler. maxW/maxH bound the rendered canvas the
// same way the interactive view is bounded, which is what keeps exported
// images identical to the screen.
func NewCompiler(st *store.Store, maxW, maxH int) *Compiler {
	return &Compiler{store: st, maxW: maxW, maxH: maxH}
}

// renderedImage is one annotated raster ready for embedding.
type renderedImage struct {
	Variant models.ImageVariant
	Counter string
	DataURI template.URL
	Failed  bool
}

// anomalySection is the per-anomaly block of the compiled document.
type anomalySection struct {
	Number      int
	Anomaly     models.Anomaly
	Confidences []variantConfidence
	Evidence    []variantEvidence
	Images      []renderedImage
}

type variantConfidence struct {
	Variant models.ImageVariant
	Value   float64
	Present bool
}

type variantEvidence struct {
	Variant models.ImageVariant
	Text    string
}

type documentData struct {
	Metadata  *models.ReportMetadata
	Summary   models.Summary
	Anomalies []anomalySection
	Variants  []models.ImageVariant
	HasCoords bool
	Lat       float64
	Lon       float64
}

// Compile renders every canonical variant for every anomaly in the dataset
// and assembles the report. The fan-out is concurrent, but assembly waits
// for every render to settle: a partially-populated report is not a valid
// result, and a failed raster degrades to the renderer's placeholder
// instead of aborting siblings.
//
// The compiler never consults the filter state. Exported reports are the
// full record of the analysis run regardless of what is on screen, and the
// output is byte-identical across compilations of the same inputs.
func (c *Compiler) Compile(ctx context.Context, folder string, dataset *models.AnalysisResult, meta *models.ReportMetadata) (string, error) {
	if dataset == nil {
		return "", fmt.Errorf("cannot compile report without a dataset")
	}
	start := time.Now()
	defer func() {
		metrics.CompileDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	variants := models.Variants()
	sections := make([]anomalySection, len(dataset.Anomalies))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentRenders)

	for i, anomaly := range dataset.Anomalies {
		sections[i] = anomalySection{
			Number:      i + 1,
			Anomaly:     anomaly,
			Confidences: confidenceRows(anomaly, variants),
			Evidence:    evidenceRows(anomaly, variants),
			Images:      make([]renderedImage, len(variants)),
		}
		for j, variant := range variants {
			wg.Add(1)
			go func(slot *renderedImage, anomaly models.Anomaly, variant models.ImageVariant, position int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				*slot = c.renderOne(ctx, folder, anomaly, variant, position, len(variants))
			}(&sections[i].Images[j], anomaly, variant, j)
		}
	}
	wg.Wait()

	data := documentData{
		Metadata:  meta,
		Summary:   dataset.Summary,
		Anomalies: sections,
		Variants:  variants,
	}
	if meta.Coordinates != nil && meta.Coordinates.IsPoint() && len(meta.Coordinates.Point) >= 2 {
		data.HasCoords = true
		data.Lon = meta.Coordinates.Point[0]
		data.Lat = meta.Coordinates.Point[1]
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to assemble report document: %w", err)
	}
	metrics.ReportsCompiled.Inc()
	return buf.String(), nil
}

// renderOne produces the annotated (or degraded) image for one
// anomaly/variant pair. Failures are isolated here: the worst outcome for
// the document is a placeholder tile.
func (c *Compiler) renderOne(ctx context.Context, folder string, anomaly models.Anomaly, variant models.ImageVariant, position, total int) renderedImage {
	out := renderedImage{
		Variant: variant,
		Counter: fmt.Sprintf("%d / %d", position+1, total),
	}

	img, err := c.store.LoadImage(ctx, folder, variant)
	if err != nil {
		log.WithError(err).Warnf("Report render: image load failed for anomaly %s variant %s", anomaly.ID, variant)
		metrics.RenderFailures.Inc()
		out.Failed = true
		out.DataURI = encodeCanvas(overlay.RenderError(err.Error(), c.maxW, c.maxH))
		return out
	}

	canvasW, canvasH, err := geometry.FitWithin(img.Bounds().Dx(), img.Bounds().Dy(), c.maxW, c.maxH)
	if err != nil {
		log.WithError(err).Warnf("Report render: bad dimensions for anomaly %s variant %s", anomaly.ID, variant)
		metrics.RenderFailures.Inc()
		out.Failed = true
		out.DataURI = encodeCanvas(overlay.RenderError(err.Error(), c.maxW, c.maxH))
		return out
	}

	rendered, err := overlay.RenderAnomaly(img, anomaly.BoundingBoxes, canvasW, canvasH)
	if err != nil {
		// Second-chance path: the raster decoded fine, only annotation
		// failed, so embed the plain image rather than nothing.
		log.WithError(err).Warnf("Report render: annotation failed for anomaly %s variant %s, embedding plain image", anomaly.ID, variant)
		metrics.RenderFailures.Inc()
		out.DataURI = encodeCanvas(overlay.RenderPlain(img, canvasW, canvasH))
		return out
	}

	metrics.OverlaysRendered.Inc()
	out.DataURI = encodeCanvas(rendered)
	return out
}

// encodeCanvas serializes a rendered canvas to an inline PNG data URI.
func encodeCanvas(img image.Image) template.URL {
	data, err := overlay.EncodePNG(img)
	if err != nil {
		// png.Encode on an in-memory RGBA only fails on writer errors,
		// which bytes.Buffer does not produce.
		log.WithError(err).Error("Report render: failed to encode canvas")
		return ""
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(data))
}

func confidenceRows(anomaly models.Anomaly, variants []models.ImageVariant) []variantConfidence {
	rows := make([]variantConfidence, 0, len(variants))
	for _, v := range variants {
		value, ok := anomaly.Confidence.PerImageType[string(v)]
		rows = append(rows, variantConfidence{Variant: v, Value: value, Present: ok})
	}
	return rows
}

func evidenceRows(anomaly models.Anomaly, variants []models.ImageVariant) []variantEvidence {
	rows := make([]variantEvidence, 0, len(variants))
	for _, v := range variants {
		if text, ok := anomaly.EvidencePerImageType[string(v)]; ok && text != "" {
			rows = append(rows, variantEvidence{Variant: v, Text: text})
		}
	}
	return rows
}
