// Package rest talks to an external embedding/retrieval engine over its
// corpus document API.
package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

// Config holds the connection settings for one corpus.
type Config struct {
	BaseURL string
	Corpus  string
	APIKey  string
	Timeout time.Duration
}

// Client implements pipeline.SearchBackend against the REST corpus API:
//
//	POST {base}/corpora/{corpus}/documents:import
//	POST {base}/corpora/{corpus}/documents:remove
//	POST {base}/corpora/{corpus}/documents:search
type Client struct {
	http   *resty.Client
	corpus string
}

// New builds a client for the configured corpus.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	if cfg.Corpus == "" {
		return nil, fmt.Errorf("corpus name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &Client{http: client, corpus: cfg.Corpus}, nil
}

type importRequest struct {
	DocumentID string        `json:"document_id"`
	Chunks     []chunkRecord `json:"chunks"`
}

type chunkRecord struct {
	Ordinal int    `json:"ordinal"`
	Heading string `json:"heading,omitempty"`
	Text    string `json:"text"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

type importResponse struct {
	Refs []string `json:"refs"`
}

// Submit imports the chunks and returns the backend's reference per chunk.
func (c *Client) Submit(ctx context.Context, docID string, chunks []pipeline.Chunk) ([]string, error) {
	body := importRequest{DocumentID: docID, Chunks: make([]chunkRecord, len(chunks))}
	for i, ch := range chunks {
		body.Chunks[i] = chunkRecord{
			Ordinal: ch.Ordinal,
			Heading: ch.Heading,
			Text:    ch.Text,
			Start:   ch.Start,
			End:     ch.End,
		}
	}

	var out importResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(c.path("documents:import"))
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", docID, err)
	}
	if resp.IsError() {
		return nil, &pipeline.HTTPError{URL: resp.Request.URL, StatusCode: resp.StatusCode()}
	}
	return out.Refs, nil
}

// Remove deletes the document's chunks. A 404 means nothing was indexed,
// which is fine for delete-before-insert.
func (c *Client) Remove(ctx context.Context, docID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"document_id": docID}).
		Post(c.path("documents:remove"))
	if err != nil {
		return fmt.Errorf("remove %s: %w", docID, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return &pipeline.HTTPError{URL: resp.Request.URL, StatusCode: resp.StatusCode()}
	}
	return nil
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Results []struct {
		DocumentID string  `json:"document_id"`
		Ordinal    int     `json:"ordinal"`
		Ref        string  `json:"ref"`
		Heading    string  `json:"heading"`
		Text       string  `json:"text"`
		Score      float64 `json:"score"`
		Start      int     `json:"start"`
		End        int     `json:"end"`
	} `json:"results"`
}

// Search runs a retrieval query against the corpus.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]pipeline.ChunkResult, error) {
	var out searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(searchRequest{Query: query, TopK: topK}).
		SetResult(&out).
		Post(c.path("documents:search"))
	if err != nil {
		return nil, fmt.Errorf("search corpus %s: %w", c.corpus, err)
	}
	if resp.IsError() {
		return nil, &pipeline.HTTPError{URL: resp.Request.URL, StatusCode: resp.StatusCode()}
	}

	results := make([]pipeline.ChunkResult, len(out.Results))
	for i, r := range out.Results {
		results[i] = pipeline.ChunkResult{
			Text:  r.Text,
			Score: r.Score,
			Entry: pipeline.IndexEntry{
				DocID:   r.DocumentID,
				Ordinal: r.Ordinal,
				Ref:     r.Ref,
				Heading: r.Heading,
				Start:   r.Start,
				End:     r.End,
			},
		}
	}
	return results, nil
}

func (c *Client) path(op string) string {
	return fmt.Sprintf("/corpora/%s/%s", c.corpus, op)
}
