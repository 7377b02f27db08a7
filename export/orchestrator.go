package export

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apex/log"
	"github.com/google/uuid"

	"anomaly-report-service/metrics"
	"anomaly-report-service/models"
	"anomaly-report-service/parser"
	"anomaly-report-service/report"
	"anomaly-report-service/store"
)

// State is the orchestrator's position in an export.
type State int

const (
	StateIdle State = iota
	StateCompiling
	StateSaved
	StatePdfRequested
	StatePdfReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCompiling:
		return "compiling"
	case StateSaved:
		return "saved"
	case StatePdfRequested:
		return "pdf_requested"
	case StatePdfReady:
		return "pdf_ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrPDFUnavailable is returned once the converter has answered 503: the
// condition is permanent for this session and the HTML artifact is the
// recommended fallback.
var ErrPDFUnavailable = errors.New("pdf conversion service unavailable; the HTML report remains available")

// ArtifactRecord is one persisted export artifact.
type ArtifactRecord struct {
	FileName  string
	Kind      string // "html" or "pdf"
	Folder    string
	ReportUID string
}

// ArtifactRegistry answers the idempotence check: has an artifact with
// this deterministic filename already been persisted?
type ArtifactRegistry interface {
	Has(ctx context.Context, fileName string) (bool, error)
	Record(ctx context.Context, artifact ArtifactRecord) error
}

// ExportedEvent announces a completed export. Publishing is
// fire-and-forget; a lost event never fails the export.
type ExportedEvent struct {
	JobID        string `json:"job_id"`
	Folder       string `json:"folder"`
	FileName     string `json:"fileName"`
	Kind         string `json:"kind"`
	AnomalyCount int    `json:"anomaly_count"`
}

// EventPublisher pushes export events to interested consumers. May be nil.
type EventPublisher interface {
	PublishExported(event ExportedEvent) error
}

// Orchestrator drives Idle → Compiling → Saved → PdfRequested → PdfReady,
// or Idle → Failed, reusing already-generated artifacts instead of
// recompiling them.
type Orchestrator struct {
	store     *store.Store
	compiler  *report.Compiler
	client    *Client
	registry  ArtifactRegistry
	publisher EventPublisher

	// exportMu serializes whole export flows: the registry existence
	// check and the compile+save+record it guards must act as one step,
	// and the state machine tracks one export at a time.
	exportMu sync.Mutex

	mu             sync.Mutex
	state          State
	pdfUnavailable bool
}

// NewOrchestrator wires the export pipeline. publisher may be nil.
func NewOrchestrator(st *store.Store, compiler *report.Compiler, client *Client, registry ArtifactRegistry, publisher EventPublisher) *Orchestrator {
	return &Orchestrator{
		store:     st,
		compiler:  compiler,
		client:    client,
		registry:  registry,
		publisher: publisher,
		state:     StateIdle,
	}
}

// State returns the current export state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// loadMetadata parses the folder name and folds in the optional request
// log.
func (o *Orchestrator) loadMetadata(ctx context.Context, folder string) (*models.ReportMetadata, error) {
	meta, err := models.ParseAnalysisFolder(folder)
	if err != nil {
		return nil, err
	}
	rl, err := o.store.LoadRequestLog(ctx, folder)
	if err != nil {
		if !errors.Is(err, store.ErrRequestLogMissing) {
			log.WithError(err).Warnf("Request log unreadable for %s, exporting without it", folder)
		}
	} else {
		meta.ApplyRequestLog(rl)
	}
	return meta, nil
}

// EnsureHTML guarantees the HTML artifact for a folder exists on the
// backend and returns its filename. When the registry already has the
// artifact no compilation happens and no export-report call is issued.
// Concurrent exports serialize, so only the first one compiles.
func (o *Orchestrator) EnsureHTML(ctx context.Context, folder string) (string, bool, error) {
	o.exportMu.Lock()
	defer o.exportMu.Unlock()
	return o.ensureHTML(ctx, folder)
}

func (o *Orchestrator) ensureHTML(ctx context.Context, folder string) (string, bool, error) {
	meta, err := o.loadMetadata(ctx, folder)
	if err != nil {
		return "", false, err
	}
	fileName := meta.ReportFileName()

	exists, err := o.registry.Has(ctx, fileName)
	if err != nil {
		return "", false, fmt.Errorf("failed to check artifact registry: %w", err)
	}
	if exists {
		log.Infof("Report %s already exported, reusing it", fileName)
		return fileName, false, nil
	}

	o.setState(StateCompiling)
	defer o.settle()

	document, err := o.store.LoadAnalysis(ctx, folder)
	if err != nil {
		o.fail("html", err)
		return "", false, err
	}
	dataset, problems, err := parser.ParseAnalysis(document)
	if err != nil {
		o.fail("html", err)
		return "", false, fmt.Errorf("cannot export %s: %w", folder, err)
	}
	for _, p := range problems {
		log.Warnf("Data quality: %s", p)
	}

	html, err := o.compiler.Compile(ctx, folder, dataset, meta)
	if err != nil {
		o.fail("html", err)
		return "", false, err
	}

	if err := o.client.SaveReport(ctx, html, fileName, meta); err != nil {
		o.fail("html", err)
		return "", false, err
	}
	o.setState(StateSaved)

	record := ArtifactRecord{FileName: fileName, Kind: "html", Folder: folder, ReportUID: meta.ReportUID}
	if err := o.registry.Record(ctx, record); err != nil {
		// The artifact is saved; a registry miss only costs one redundant
		// compile later.
		log.WithError(err).Warnf("Failed to record artifact %s", fileName)
	}

	metrics.ExportsTotal.WithLabelValues("html", "success").Inc()
	o.publish(ExportedEvent{
		JobID:        uuid.NewString(),
		Folder:       folder,
		FileName:     fileName,
		Kind:         "html",
		AnomalyCount: len(dataset.Anomalies),
	})
	return fileName, true, nil
}

// ExportPDF converts the analysis report to PDF, compiling the HTML first
// if it is missing. PDF conversion is never requested against stale or
// partial HTML.
func (o *Orchestrator) ExportPDF(ctx context.Context, folder string) (string, []byte, error) {
	o.mu.Lock()
	unavailable := o.pdfUnavailable
	o.mu.Unlock()
	if unavailable {
		return "", nil, ErrPDFUnavailable
	}

	o.exportMu.Lock()
	defer o.exportMu.Unlock()

	fileName, _, err := o.ensureHTML(ctx, folder)
	if err != nil {
		return "", nil, err
	}

	o.setState(StatePdfRequested)
	defer o.settle()

	pdfFileName, err := o.client.GeneratePDF(ctx, fileName)
	if err != nil {
		var backendErr *Error
		if errors.As(err, &backendErr) && backendErr.Permanent() {
			o.mu.Lock()
			o.pdfUnavailable = true
			o.mu.Unlock()
			log.WithError(err).Error("PDF converter unavailable, disabling PDF export for this session")
			metrics.ExportsTotal.WithLabelValues("pdf", "unavailable").Inc()
			o.setState(StateFailed)
			return "", nil, ErrPDFUnavailable
		}
		o.fail("pdf", err)
		return "", nil, err
	}

	data, err := o.client.DownloadPDF(ctx, pdfFileName)
	if err != nil {
		o.fail("pdf", err)
		return "", nil, err
	}
	o.setState(StatePdfReady)

	record := ArtifactRecord{FileName: pdfFileName, Kind: "pdf", Folder: folder}
	if err := o.registry.Record(ctx, record); err != nil {
		log.WithError(err).Warnf("Failed to record artifact %s", pdfFileName)
	}

	metrics.ExportsTotal.WithLabelValues("pdf", "success").Inc()
	o.publish(ExportedEvent{
		JobID:    uuid.NewString(),
		Folder:   folder,
		FileName: pdfFileName,
		Kind:     "pdf",
	})
	return pdfFileName, data, nil
}

// PDFUnavailable reports whether the converter has been marked down for
// this session.
func (o *Orchestrator) PDFUnavailable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pdfUnavailable
}

func (o *Orchestrator) fail(kind string, err error) {
	o.setState(StateFailed)
	if kind != "" {
		metrics.ExportsTotal.WithLabelValues(kind, "failure").Inc()
	}
	if err != nil {
		log.WithError(err).Errorf("Export failed")
	}
}

// settle returns the machine to Idle after an operation, success or
// failure.
func (o *Orchestrator) settle() {
	o.setState(StateIdle)
}

func (o *Orchestrator) publish(event ExportedEvent) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishExported(event); err != nil {
		log.WithError(err).Warnf("Failed to publish export event for %s", event.FileName)
	}
}
