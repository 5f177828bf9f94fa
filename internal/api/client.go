package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	apperrors "github.com/navinbhat12/rewindify/internal/common/errors"
	apphttp "github.com/navinbhat12/rewindify/internal/common/http"
	"github.com/navinbhat12/rewindify/internal/history"
	"github.com/navinbhat12/rewindify/internal/ingest"
	"github.com/navinbhat12/rewindify/internal/models"
)

// Client talks to a running server over the same routes the router serves.
type Client struct {
	baseURL string
	http    *apphttp.Client
}

func NewClient(baseURL string, httpClient *apphttp.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) CreateSession(ctx context.Context) (*history.SessionInfo, error) {
	var info history.SessionInfo
	err := c.call(ctx, http.MethodPost, "/api/session", "", nil, "", &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, http.MethodDelete, "/api/session", sessionID, nil, "", nil)
}

// Ingest uploads one chunk as multipart form data.
func (c *Client) Ingest(ctx context.Context, req ingest.ChunkRequest) (*history.IngestResult, error) {
	body, contentType, err := encodeChunk(req)
	if err != nil {
		return nil, err
	}

	var res history.IngestResult
	if err := c.call(ctx, http.MethodPost, "/upload", req.SessionID, body, contentType, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DailySeries(ctx context.Context, sessionID string) ([]models.DailyTotal, error) {
	var out []models.DailyTotal
	if err := c.call(ctx, http.MethodGet, "/daily", sessionID, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AllTimeStats(ctx context.Context, sessionID string) (*models.AllTimeStats, error) {
	var out models.AllTimeStats
	if err := c.call(ctx, http.MethodGet, "/all_time_stats", sessionID, nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func encodeChunk(req ingest.ChunkRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]int{
		"chunk_index":     req.ChunkIndex,
		"chunk_total":     req.ChunkTotal,
		"file_part_index": req.FilePartIndex,
		"file_part_total": req.FilePartTotal,
	}
	for name, v := range fields {
		if err := mw.WriteField(name, strconv.Itoa(v)); err != nil {
			return nil, "", fmt.Errorf("writing %s: %w", name, err)
		}
	}
	for _, f := range req.Files {
		fw, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, "", fmt.Errorf("adding %s: %w", f.Name, err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (c *Client) call(ctx context.Context, method, path, sessionID string, body []byte, contentType string, out interface{}) error {
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var r io.Reader
		if body != nil {
			r = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if sessionID != "" {
			req.Header.Set(SessionHeader, sessionID)
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// decodeError turns an error body back into the StandardError the server sent.
func decodeError(resp *http.Response) error {
	var payload errorBody
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Error == nil {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return payload.Error
}

type errorBody struct {
	Error *apperrors.StandardError `json:"error"`
}
