package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"anomaly-report-service/export"
	"anomaly-report-service/models"
	"anomaly-report-service/report"
	"anomaly-report-service/store"
)

const testFolder = "Upper_Xingu_gpt4o_20250614_091500_a1b2c3"

const testAnalysis = `{
	"summary": {"targetAreaId": "xingu-04", "anomaliesDetected": true, "anomalyCount": 2},
	"anomalies": [
		{
			"id": "a-1",
			"classification": {"type": "Causeway"},
			"confidence": {"global": 0.7},
			"interpretation": "Linear raised feature.",
			"boundingBoxes": [{"xMin": 10, "yMin": 10, "xMax": 40, "yMax": 40}]
		},
		{
			"id": "a-2",
			"classification": {"type": "Geoglyph"},
			"confidence": {"global": 0.55},
			"interpretation": "Faint rectilinear pattern.",
			"boundingBoxes": []
		}
	]
}`

type memoryRegistry struct {
	mu        sync.Mutex
	artifacts map[string]export.ArtifactRecord
}

func newMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{artifacts: make(map[string]export.ArtifactRecord)}
}

func (r *memoryRegistry) Has(_ context.Context, fileName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.artifacts[fileName]
	return ok, nil
}

func (r *memoryRegistry) Record(_ context.Context, artifact export.ArtifactRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[artifact.FileName] = artifact
	return nil
}

func fixtureRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	imgDir := filepath.Join(root, testFolder, "sent_images")
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 80, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 80; x++ {
			img.Set(x, y, color.RGBA{120, 110, 90, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	for _, v := range models.Variants() {
		if err := os.WriteFile(filepath.Join(imgDir, string(v)+".png"), buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, testFolder, "analysis.json"), []byte(testAnalysis), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "visual_lexicon.json"),
		[]byte(`{"types":["Causeway","Geoglyph","Settlement Platform"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func testBackend(t *testing.T, pdfStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/export-report", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/generate-pdf/", func(w http.ResponseWriter, r *http.Request) {
		if pdfStatus != http.StatusOK {
			http.Error(w, "converter not deployed", pdfStatus)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"pdfFileName": "report.pdf"})
	})
	mux.HandleFunc("/download-pdf/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.4 fake"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testRouter(t *testing.T, root, backendURL string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.New(root)
	compiler := report.NewCompiler(st, 200, 160)
	orch := export.NewOrchestrator(st, compiler, export.NewClient(backendURL), newMemoryRegistry(), nil)
	h := NewHandlers(st, orch, 800, 640)

	router := gin.New()
	router.GET("/health", h.HealthCheck)
	api := router.Group("/api/v3")
	api.GET("/lexicon", h.GetLexicon)
	api.GET("/analysis/:folder", h.GetAnalysis)
	api.GET("/analysis/:folder/anomalies", h.GetAnomalies)
	api.GET("/analysis/:folder/overlay/:variant", h.GetOverlay)
	api.POST("/analysis/:folder/gallery/:anomaly/:direction", h.GalleryStep)
	api.POST("/analysis/:folder/export", h.ExportHTML)
	api.POST("/analysis/:folder/export/pdf", h.ExportPDF)
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestHealthCheck(t *testing.T) {
	router := testRouter(t, fixtureRoot(t), "http://unused")
	rec := doRequest(t, router, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeJSON(t, rec); body["status"] != "healthy" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestGetLexicon(t *testing.T) {
	router := testRouter(t, fixtureRoot(t), "http://unused")
	rec := doRequest(t, router, http.MethodGet, "/api/v3/lexicon")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["count"] != float64(3) {
		t.Errorf("expected 3 lexicon types, got %v", body)
	}
}

func TestGetLexiconBrokenFileIsInline(t *testing.T) {
	root := fixtureRoot(t)
	if err := os.WriteFile(filepath.Join(root, "visual_lexicon.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	router := testRouter(t, root, "http://unused")

	rec := doRequest(t, router, http.MethodGet, "/api/v3/lexicon")
	if rec.Code != http.StatusOK {
		t.Fatalf("broken vocabulary should still answer 200, got %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["warning"] == nil {
		t.Error("expected inline warning for broken vocabulary")
	}
}

func TestGetAnalysis(t *testing.T) {
	router := testRouter(t, fixtureRoot(t), "http://unused")
	rec := doRequest(t, router, http.MethodGet, "/api/v3/analysis/"+testFolder)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["parsed"] != true {
		t.Errorf("expected parsed result, got %v", body)
	}
	if got := rec.Header().Get("X-Report-File-Name"); got != "Upper_Xingu_20250614_a1b2c3_anomaly_report.html" {
		t.Errorf("unexpected report filename header %q", got)
	}
}

func TestGetAnalysisShapeMismatchFallsBackToRaw(t *testing.T) {
	root := fixtureRoot(t)
	mismatched := `{"summary":{"targetAreaId":"x","anomaliesDetected":true,"anomalyCount":5},"anomalies":[]}`
	if err := os.WriteFile(filepath.Join(root, testFolder, "analysis.json"), []byte(mismatched), 0o644); err != nil {
		t.Fatal(err)
	}
	router := testRouter(t, root, "http://unused")

	rec := doRequest(t, router, http.MethodGet, "/api/v3/analysis/"+testFolder)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with raw fallback, got %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["parsed"] != false {
		t.Error("shape mismatch should report parsed=false")
	}
	if body["raw"] == nil || body["error"] == nil {
		t.Errorf("raw document and reason must be present: %v", body)
	}
}

func TestGetAnalysisNotFound(t *testing.T) {
	router := testRouter(t, fixtureRoot(t), "http://unused")
	rec := doRequest(t, router, http.MethodGet, "/api/v3/analysis/Other_m_20250614_091500_zzz")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetAnomaliesFiltering(t *testing.T) {
	router := testRouter(t, fixtureRoot(t), "http://unused")

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"no types selected means none shown", "", 0},
		{"single type", "?types=Causeway", 1},
		{"both types", "?types=Causeway,Geoglyph", 2},
		{"unknown type", "?types=Roadway", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, "/api/v3/analysis/"+testFolder+"/anomalies"+tt.query)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			body := decodeJSON(t, rec)
			if body["count"] != float64(tt.want) {
				t.Errorf("expected count %d, got %v", tt.want, body["count"])
			}
		})
	}
}

func TestGetOverlayAnnotatedPNG(t *testing.T) {
	router := testRouter(t, fixtureRoot(t), "http://unused")
	rec := doRequest(t, router, http.MethodGet, "/api/v3/analysis/"+testFolder+"/overlay/hillshade?anomaly=a-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("response is not a PNG: %v", err)
	}
	if img.Bounds().Dx() == 0 {
		t.Error("empty canvas")
	}
	if rec.Header().Get("X-Render-Generation") == "" {
		t.Error("render generation header missing")
	}
}

func TestGetOverlayUnknownVariant(t *testing.T) {
	router := testRouter(t, fixtureRoot(t), "http://unused")
	rec := doRequest(t, router, http.MethodGet, "/api/v3/analysis/"+testFolder+"/overlay/hillshade_v2")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown variant should be 400, got %d", rec.Code)
	}
}

func TestGetOverlayMissingImageServesPlaceholder(t *testing.T) {
	root := fixtureRoot(t)
	if err := os.Remove(filepath.Join(root, testFolder, "sent_images", "svf.png")); err != nil {
		t.Fatal(err)
	}
	router := testRouter(t, root, "http://unused")

	rec := doRequest(t, router, http.MethodGet, "/api/v3/analysis/"+testFolder+"/overlay/svf")
	if rec.Code != http.StatusOK {
		t.Fatalf("placeholder should answer 200, got %d", rec.Code)
	}
	if _, err := png.Decode(bytes.NewReader(rec.Body.Bytes())); err != nil {
		t.Errorf("placeholder is not a PNG: %v", err)
	}
}

func TestGalleryStepWrapsAround(t *testing.T) {
	router := testRouter(t, fixtureRoot(t), "http://unused")
	base := "/api/v3/analysis/" + testFolder + "/gallery/a-1/"

	rec := doRequest(t, router, http.MethodPost, base+"prev")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["variant"] != "composite" {
		t.Errorf("prev from first variant should wrap to composite, got %v", body["variant"])
	}
	if body["counter"] != "5 / 5" {
		t.Errorf("unexpected counter %v", body["counter"])
	}

	rec = doRequest(t, router, http.MethodPost, base+"next")
	body = decodeJSON(t, rec)
	if body["variant"] != "hillshade" {
		t.Errorf("next from last variant should wrap to hillshade, got %v", body["variant"])
	}
}

func TestGalleryStepBumpsGeneration(t *testing.T) {
	router := testRouter(t, fixtureRoot(t), "http://unused")
	base := "/api/v3/analysis/" + testFolder + "/gallery/a-1/next"

	first := decodeJSON(t, doRequest(t, router, http.MethodPost, base))
	second := decodeJSON(t, doRequest(t, router, http.MethodPost, base))
	if second["generation"].(float64) <= first["generation"].(float64) {
		t.Error("each transition must invalidate earlier renders")
	}
}

func TestGalleryStepBadDirection(t *testing.T) {
	router := testRouter(t, fixtureRoot(t), "http://unused")
	rec := doRequest(t, router, http.MethodPost, "/api/v3/analysis/"+testFolder+"/gallery/a-1/sideways")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestExportHTML(t *testing.T) {
	backend := testBackend(t, http.StatusOK)
	router := testRouter(t, fixtureRoot(t), backend.URL)

	rec := doRequest(t, router, http.MethodPost, "/api/v3/analysis/"+testFolder+"/export")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON(t, rec)
	if body["fileName"] != "Upper_Xingu_20250614_a1b2c3_anomaly_report.html" {
		t.Errorf("unexpected artifact filename %v", body["fileName"])
	}
	if body["compiled"] != true {
		t.Error("first export should compile")
	}
}

func TestExportPDF(t *testing.T) {
	backend := testBackend(t, http.StatusOK)
	router := testRouter(t, fixtureRoot(t), backend.URL)

	rec := doRequest(t, router, http.MethodPost, "/api/v3/analysis/"+testFolder+"/export/pdf")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF") {
		t.Error("expected PDF payload")
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "report.pdf") {
		t.Errorf("unexpected disposition %q", cd)
	}
}

func TestExportPDFUnavailable(t *testing.T) {
	backend := testBackend(t, http.StatusServiceUnavailable)
	router := testRouter(t, fixtureRoot(t), backend.URL)

	rec := doRequest(t, router, http.MethodPost, "/api/v3/analysis/"+testFolder+"/export/pdf")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	if body["fallback"] == nil {
		t.Error("503 answer must recommend the HTML fallback")
	}
}
