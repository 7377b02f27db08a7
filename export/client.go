// Package export sequences report exports against the artifact backend:
// ensure the HTML artifact exists, then request PDF conversion, then hand
// back the binary. Already-generated artifacts are reused, never rebuilt.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"

	"anomaly-report-service/models"
)

// Error is a failed backend call. StatusCode and Body carry the raw backend
// answer so the surfaced message is actionable without developer tools.
type Error struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Permanent reports whether the failure is non-retryable for this session.
// The PDF converter answers 503 when it is not deployed at all; retrying
// cannot help, and the caller should recommend the HTML fallback.
func (e *Error) Permanent() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// Client talks to the artifact backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client. Conversion of a large report can take
// a while, so the timeout is generous.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// NewClientWithTimeout creates a backend client with an explicit request
// timeout.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	c := NewClient(baseURL)
	c.httpClient.Timeout = timeout
	return c
}

type saveReportRequest struct {
	HTMLContent string                 `json:"htmlContent"`
	FileName    string                 `json:"fileName"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// SaveReport persists a compiled HTML artifact under its deterministic
// filename.
func (c *Client) SaveReport(ctx context.Context, htmlContent, fileName string, meta *models.ReportMetadata) error {
	payload := saveReportRequest{
		HTMLContent: htmlContent,
		FileName:    fileName,
		Metadata: map[string]interface{}{
			"region":    meta.RegionName,
			"model":     meta.ModelName,
			"timestamp": meta.AnalysisTimestamp.Format(time.RFC3339),
			"reportUid": meta.ReportUID,
			"folder":    meta.AnalysisFolder,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal export request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/export-report", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Infof("Saving report %s (%d bytes of HTML)", fileName, len(htmlContent))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach artifact backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &Error{Op: "export-report", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

type generatePDFResponse struct {
	PDFFileName string `json:"pdfFileName"`
}

// GeneratePDF asks the backend to convert an already-saved HTML artifact
// and returns the PDF filename.
func (c *Client) GeneratePDF(ctx context.Context, fileName string) (string, error) {
	endpoint := c.baseURL + "/generate-pdf/" + url.PathEscape(fileName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create pdf request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach pdf converter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{Op: "generate-pdf", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var out generatePDFResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode pdf response: %w", err)
	}
	if out.PDFFileName == "" {
		return "", fmt.Errorf("pdf converter returned no filename")
	}
	return out.PDFFileName, nil
}

// DownloadPDF streams a generated PDF back.
func (c *Client) DownloadPDF(ctx context.Context, pdfFileName string) ([]byte, error) {
	endpoint := c.baseURL + "/download-pdf/" + url.PathEscape(pdfFileName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach artifact backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "download-pdf", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return io.ReadAll(resp.Body)
}

func readBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return string(data)
}
