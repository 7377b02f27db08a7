// Package store resolves and loads the fixed file set of an analysis
// folder: the result document, the per-variant rasters under sent_images/,
// the optional request log, and the visual lexicon. The logs root may be an
// HTTP base URL or a local directory; resolution validates variant names
// against the canonical set up front so a typo fails fast instead of
// surfacing as a silent 404 deep inside a batch export.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"anomaly-report-service/models"
)

const (
	analysisFileName   = "analysis.json"
	requestLogFileName = "request_log.json"
	lexiconFileName    = "visual_lexicon.json"
	sentImagesDir      = "sent_images"
)

// ImageLoadError marks a raster that could not be fetched or decoded. It is
// recovered locally with a placeholder; it never aborts sibling work.
type ImageLoadError struct {
	Folder  string
	Variant models.ImageVariant
	Err     error
}

func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("failed to load %s image for %s: %v", e.Variant, e.Folder, e.Err)
}

func (e *ImageLoadError) Unwrap() error { return e.Err }

// VocabularyError marks a failed visual lexicon load. The dashboard stays
// functional; only the filter panel reports it.
type VocabularyError struct {
	Err error
}

func (e *VocabularyError) Error() string {
	return fmt.Sprintf("failed to load visual lexicon: %v", e.Err)
}

func (e *VocabularyError) Unwrap() error { return e.Err }

// ErrRequestLogMissing is returned when an analysis run wrote no request
// log. The log is optional, so callers treat this as "no augmentation".
var ErrRequestLogMissing = errors.New("request log not present for analysis folder")

// Store reads analysis artifacts from the logs root.
type Store struct {
	logsRoot string
	remote   bool
	client   *http.Client
}

// New creates a store over an HTTP base URL or a local directory.
func New(logsRoot string) *Store {
	return &Store{
		logsRoot: strings.TrimRight(logsRoot, "/"),
		remote:   strings.HasPrefix(logsRoot, "http://") || strings.HasPrefix(logsRoot, "https://"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func validFolderName(folder string) error {
	if folder == "" || strings.ContainsAny(folder, "/\\") || strings.Contains(folder, "..") {
		return fmt.Errorf("invalid analysis folder name %q", folder)
	}
	return nil
}

// ResolveImageURL builds the location of one variant raster, failing fast
// on unknown variant names. The path shape
// {logsRoot}/{folder}/sent_images/{variant}.png is a hard contract with the
// analysis pipeline.
func (s *Store) ResolveImageURL(folder string, variant models.ImageVariant) (string, error) {
	if err := validFolderName(folder); err != nil {
		return "", err
	}
	if !models.IsValidVariant(string(variant)) {
		return "", fmt.Errorf("unknown image variant %q, expected one of %v", variant, models.Variants())
	}
	if s.remote {
		return fmt.Sprintf("%s/%s/%s/%s.png", s.logsRoot, folder, sentImagesDir, variant), nil
	}
	return filepath.Join(s.logsRoot, folder, sentImagesDir, string(variant)+".png"), nil
}

func (s *Store) fetch(ctx context.Context, location string) ([]byte, error) {
	if !s.remote {
		return os.ReadFile(location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, os.ErrNotExist
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s fetching %s", resp.Status, location)
	}
	return io.ReadAll(resp.Body)
}

func (s *Store) resolveFile(folder, name string) (string, error) {
	if err := validFolderName(folder); err != nil {
		return "", err
	}
	if s.remote {
		return fmt.Sprintf("%s/%s/%s", s.logsRoot, folder, name), nil
	}
	return filepath.Join(s.logsRoot, folder, name), nil
}

// LoadImage fetches and decodes one variant raster.
func (s *Store) LoadImage(ctx context.Context, folder string, variant models.ImageVariant) (image.Image, error) {
	location, err := s.ResolveImageURL(folder, variant)
	if err != nil {
		return nil, err
	}

	data, err := s.fetch(ctx, location)
	if err != nil {
		return nil, &ImageLoadError{Folder: folder, Variant: variant, Err: err}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ImageLoadError{Folder: folder, Variant: variant, Err: err}
	}
	return img, nil
}

// LoadAnalysis returns the raw analysis document for a folder. Parsing is
// the caller's concern so the raw text survives for the fallback rendering
// path.
func (s *Store) LoadAnalysis(ctx context.Context, folder string) (string, error) {
	location, err := s.resolveFile(folder, analysisFileName)
	if err != nil {
		return "", err
	}
	data, err := s.fetch(ctx, location)
	if err != nil {
		return "", fmt.Errorf("failed to load analysis document for %s: %w", folder, err)
	}
	return string(data), nil
}

// LoadRequestLog returns the optional request log, or ErrRequestLogMissing.
func (s *Store) LoadRequestLog(ctx context.Context, folder string) (*models.RequestLog, error) {
	location, err := s.resolveFile(folder, requestLogFileName)
	if err != nil {
		return nil, err
	}
	data, err := s.fetch(ctx, location)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrRequestLogMissing
		}
		return nil, fmt.Errorf("failed to load request log for %s: %w", folder, err)
	}

	var rl models.RequestLog
	if err := json.Unmarshal(data, &rl); err != nil {
		return nil, fmt.Errorf("failed to decode request log for %s: %w", folder, err)
	}
	return &rl, nil
}

// Lexicon mirrors the visual lexicon document listing every classification
// type the detection model can emit. It seeds the filter state.
type Lexicon struct {
	Types []string `json:"types"`
}

// LoadLexicon fetches the visual lexicon from the logs root.
func (s *Store) LoadLexicon(ctx context.Context) ([]string, error) {
	var location string
	if s.remote {
		location = s.logsRoot + "/" + lexiconFileName
	} else {
		location = filepath.Join(s.logsRoot, lexiconFileName)
	}

	data, err := s.fetch(ctx, location)
	if err != nil {
		return nil, &VocabularyError{Err: err}
	}
	var lex Lexicon
	if err := json.Unmarshal(data, &lex); err != nil {
		return nil, &VocabularyError{Err: err}
	}
	if len(lex.Types) == 0 {
		return nil, &VocabularyError{Err: errors.New("lexicon lists no classification types")}
	}
	return lex.Types, nil
}
