// Package file implements pipeline.Fetcher for locally uploaded documents.
package file

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

// Fetcher reads documents from a base directory. The request URL is a path
// relative to the base; traversal outside the base is rejected.
type Fetcher struct {
	baseDir string
}

// New creates a file fetcher rooted at baseDir.
func New(baseDir string) (*Fetcher, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, fmt.Errorf("stat base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}
	return &Fetcher{baseDir: baseDir}, nil
}

// Fetch reads one file and returns its bytes.
func (f *Fetcher) Fetch(ctx context.Context, request pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.FetchResponse{}, fmt.Errorf("file fetch canceled: %w", err)
	}

	full := filepath.Join(f.baseDir, filepath.FromSlash(request.URL))
	cleanBase := filepath.Clean(f.baseDir)
	if !strings.HasPrefix(filepath.Clean(full), cleanBase+string(filepath.Separator)) {
		return pipeline.FetchResponse{}, &pipeline.ParseError{ID: request.ID, Reason: "path escapes base directory"}
	}

	start := time.Now()
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return pipeline.FetchResponse{}, &pipeline.HTTPError{URL: request.URL, StatusCode: http.StatusNotFound}
		}
		return pipeline.FetchResponse{}, fmt.Errorf("read %s: %w", request.URL, err)
	}

	return pipeline.FetchResponse{
		URL:        request.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{},
		Body:       data,
		Duration:   time.Since(start),
		FetchedAt:  time.Now().UTC(),
	}, nil
}
