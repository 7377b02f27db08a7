package handlers

import (
	"errors"
	"image"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"anomaly-report-service/export"
	"anomaly-report-service/filter"
	"anomaly-report-service/gallery"
	"anomaly-report-service/geometry"
	"anomaly-report-service/metrics"
	"anomaly-report-service/models"
	"anomaly-report-service/overlay"
	"anomaly-report-service/parser"
	"anomaly-report-service/store"
)

// Handlers represents the HTTP handlers
type Handlers struct {
	store        *store.Store
	orchestrator *export.Orchestrator
	maxW         int
	maxH         int

	mu        sync.Mutex
	galleries map[string]*gallery.Session
}

// NewHandlers creates new HTTP handlers
func NewHandlers(st *store.Store, orch *export.Orchestrator, maxW, maxH int) *Handlers {
	return &Handlers{
		store:        st,
		orchestrator: orch,
		maxW:         maxW,
		maxH:         maxH,
		galleries:    make(map[string]*gallery.Session),
	}
}

func (h *Handlers) sessionFor(folder string) *gallery.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.galleries[folder]
	if !ok {
		s = gallery.NewSession()
		h.galleries[folder] = s
	}
	return s
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "anomaly-report-service",
	})
}

// GetLexicon returns the classification vocabulary used by the filter panel.
// A broken vocabulary file is reported inline so the caller can render the
// failure instead of an empty panel.
func (h *Handlers) GetLexicon(c *gin.Context) {
	types, err := h.store.LoadLexicon(c.Request.Context())
	if err != nil {
		log.WithError(err).Warn("Failed to load visual lexicon")
		c.JSON(http.StatusOK, gin.H{
			"types":   []string{},
			"warning": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"types": types,
		"count": len(types),
	})
}

// loadDataset fetches and parses the analysis document for a folder. On a
// schema mismatch it returns the raw document alongside the typed error so
// callers can fall back to showing it verbatim.
func (h *Handlers) loadDataset(c *gin.Context, folder string) (*models.AnalysisResult, []string, string, error) {
	document, err := h.store.LoadAnalysis(c.Request.Context(), folder)
	if err != nil {
		return nil, nil, "", err
	}

	result, problems, err := parser.ParseAnalysis(document)
	if err != nil {
		return nil, nil, document, err
	}
	return result, problems, document, nil
}

// GetAnalysis returns the parsed analysis result for a folder. When the
// document does not match the expected shape, the raw JSON is returned
// instead of a hard failure.
func (h *Handlers) GetAnalysis(c *gin.Context) {
	folder := c.Param("folder")

	result, problems, raw, err := h.loadDataset(c, folder)
	if err != nil {
		var shapeErr *parser.DataShapeError
		if errors.As(err, &shapeErr) {
			c.JSON(http.StatusOK, gin.H{
				"parsed": false,
				"error":  shapeErr.Reason,
				"raw":    raw,
			})
			return
		}
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Analysis not found",
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to load analysis: " + err.Error(),
		})
		return
	}

	response := gin.H{
		"parsed": true,
		"result": result,
	}
	if len(problems) > 0 {
		response["problems"] = problems
	}

	if meta, err := models.ParseAnalysisFolder(folder); err == nil {
		c.Header("X-Report-File-Name", meta.ReportFileName())
	}

	c.JSON(http.StatusOK, response)
}

// GetAnomalies returns the anomalies matching the requested classification
// types. No types selected means no anomalies, not all of them.
func (h *Handlers) GetAnomalies(c *gin.Context) {
	folder := c.Param("folder")

	result, _, _, err := h.loadDataset(c, folder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to load analysis: " + err.Error(),
		})
		return
	}

	active := make(map[string]bool)
	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				active[t] = true
			}
		}
	}

	filtered := filter.Apply(result, active)
	c.JSON(http.StatusOK, gin.H{
		"anomalies": filtered.Anomalies,
		"count":     filtered.Count,
	})
}

// GetOverlay serves one image variant as PNG, annotated with the bounding
// boxes of the requested anomaly. Load failures degrade to a placeholder
// canvas rather than a broken image.
func (h *Handlers) GetOverlay(c *gin.Context) {
	folder := c.Param("folder")
	variantName := c.Param("variant")

	if !models.IsValidVariant(variantName) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown image variant: " + variantName,
		})
		return
	}
	variant := models.ImageVariant(variantName)

	maxW := intQuery(c, "maxw", h.maxW)
	maxH := intQuery(c, "maxh", h.maxH)

	session := h.sessionFor(folder)
	generation := session.Generation()

	img, err := h.store.LoadImage(c.Request.Context(), folder, variant)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"folder":  folder,
			"variant": variantName,
		}).Warn("Image load failed, serving placeholder")
		metrics.RenderFailures.Inc()
		h.servePNG(c, overlay.RenderError("image unavailable", maxW, maxH), generation)
		return
	}

	bounds := img.Bounds()
	canvasW, canvasH, err := geometry.FitWithin(bounds.Dx(), bounds.Dy(), maxW, maxH)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "Cannot size canvas: " + err.Error(),
		})
		return
	}

	anomalyID := c.Query("anomaly")
	if anomalyID == "" {
		metrics.OverlaysRendered.Inc()
		h.servePNG(c, overlay.RenderPlain(img, canvasW, canvasH), generation)
		return
	}

	result, _, _, err := h.loadDataset(c, folder)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to load analysis: " + err.Error(),
		})
		return
	}

	anomaly, ok := findAnomaly(result, anomalyID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Unknown anomaly id: " + anomalyID,
		})
		return
	}

	canvas, err := overlay.RenderAnomaly(img, anomaly.BoundingBoxes, canvasW, canvasH)
	if err != nil {
		log.WithError(err).WithField("anomaly", anomalyID).Warn("Annotation failed, serving unannotated image")
		metrics.RenderFailures.Inc()
		h.servePNG(c, overlay.RenderPlain(img, canvasW, canvasH), generation)
		return
	}

	metrics.OverlaysRendered.Inc()
	h.servePNG(c, canvas, generation)
}

// servePNG encodes and writes a canvas. The render generation header lets a
// client discard responses that raced with a gallery transition.
func (h *Handlers) servePNG(c *gin.Context, img *image.RGBA, generation uint64) {
	data, err := overlay.EncodePNG(img)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to encode canvas: " + err.Error(),
		})
		return
	}
	c.Header("X-Render-Generation", strconv.FormatUint(generation, 10))
	c.Data(http.StatusOK, "image/png", data)
}

// GalleryStep advances or rewinds the per-anomaly image gallery with
// wraparound and invalidates any in-flight renders for the folder.
func (h *Handlers) GalleryStep(c *gin.Context) {
	folder := c.Param("folder")
	anomalyID := c.Param("anomaly")
	direction := c.Param("direction")

	var forward bool
	switch direction {
	case "next":
		forward = true
	case "prev":
		forward = false
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Direction must be next or prev",
		})
		return
	}

	variant, index, counter, generation := h.sessionFor(folder).Step(anomalyID, forward)
	c.JSON(http.StatusOK, gin.H{
		"variant":    variant,
		"index":      index,
		"counter":    counter,
		"generation": generation,
	})
}

// ExportHTML compiles (or reuses) the HTML report artifact for a folder.
func (h *Handlers) ExportHTML(c *gin.Context) {
	folder := c.Param("folder")

	fileName, compiled, err := h.orchestrator.EnsureHTML(c.Request.Context(), folder)
	if err != nil {
		h.exportError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"fileName": fileName,
		"compiled": compiled,
		"state":    h.orchestrator.State().String(),
	})
}

// ExportPDF converts the HTML artifact to PDF and streams it back. A
// converter that is not deployed at all is reported once and the HTML
// fallback recommended for the rest of the session.
func (h *Handlers) ExportPDF(c *gin.Context) {
	folder := c.Param("folder")

	pdfName, data, err := h.orchestrator.ExportPDF(c.Request.Context(), folder)
	if err != nil {
		if errors.Is(err, export.ErrPDFUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":    "PDF conversion service is unavailable",
				"fallback": "Export the HTML report instead; it contains the complete content.",
			})
			return
		}
		h.exportError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+pdfName+`"`)
	c.Data(http.StatusOK, "application/pdf", data)
}

// exportError maps export pipeline failures onto HTTP answers, surfacing
// the backend's own message where one exists.
func (h *Handlers) exportError(c *gin.Context, err error) {
	var shapeErr *parser.DataShapeError
	if errors.As(err, &shapeErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "Analysis data cannot be compiled: " + shapeErr.Reason,
		})
		return
	}
	if errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
		return
	}

	var backendErr *export.Error
	if errors.As(err, &backendErr) {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "Export backend rejected the request",
			"backend": backendErr.Body,
			"status":  backendErr.StatusCode,
		})
		return
	}

	log.WithError(err).Error("Export failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "Export failed: " + err.Error(),
	})
}

func intQuery(c *gin.Context, key string, defaultValue int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultValue
}

func findAnomaly(result *models.AnalysisResult, id string) (models.Anomaly, bool) {
	for _, a := range result.Anomalies {
		if a.ID == id {
			return a, true
		}
	}
	return models.Anomaly{}, false
}
