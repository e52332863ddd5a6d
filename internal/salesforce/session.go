// Package salesforce is the session provider used by the migration
// pipeline: username/password login, SOQL queries, binary reads of
// ContentVersion payloads and sObject creation over the REST API.
package salesforce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultAPIVersion is the REST API version used when none is configured.
const DefaultAPIVersion = "59.0"

// DefaultMaxPayload caps a single response body, payload downloads included.
const DefaultMaxPayload = 512 << 20

// ErrPayloadTooLarge is returned when a response body exceeds the session's cap.
var ErrPayloadTooLarge = errors.New("payload exceeds size limit")

// Row is one query result record with the "attributes" entry removed.
type Row map[string]any

// String returns field as a string; numbers are formatted, nil is "".
func (r Row) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Session is an authenticated handle to one org. It is safe for
// concurrent use.
type Session struct {
	client      *http.Client
	instanceURL string
	sessionID   string
	apiVersion  string
	timeout     time.Duration
	maxPayload  int64
	limiter     *rate.Limiter
	log         *zap.Logger
}

func (s *Session) dataURL(path string) string {
	return s.instanceURL + "/services/data/v" + s.apiVersion + path
}

// do performs one bounded, rate-limited request and returns status and
// body. A body longer than the session's cap is an error, never truncated.
func (s *Session) do(ctx context.Context, method, rawURL string, body []byte) (int, []byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		// the wait would outlast the caller's deadline
		return 0, nil, fmt.Errorf("rate limit: %v: %w", err, context.DeadlineExceeded)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.sessionID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	limit := s.maxPayload
	if limit <= 0 {
		limit = DefaultMaxPayload
	}
	if resp.ContentLength > limit {
		return resp.StatusCode, nil, fmt.Errorf("%w: %d bytes announced, limit %d", ErrPayloadTooLarge, resp.ContentLength, limit)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if int64(len(data)) > limit {
		return resp.StatusCode, nil, fmt.Errorf("%w: limit %d bytes", ErrPayloadTooLarge, limit)
	}
	s.log.Debug("request",
		zap.String("method", method),
		zap.String("url", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return resp.StatusCode, data, nil
}

type queryResponse struct {
	TotalSize      int              `json:"totalSize"`
	Done           bool             `json:"done"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
	Records        []map[string]any `json:"records"`
}

// Query runs q and follows pagination until all rows are read.
func (s *Session) Query(ctx context.Context, q Query) ([]Row, error) {
	text, err := q.Render()
	if err != nil {
		return nil, QueryError.Wrap(err)
	}

	next := s.dataURL("/query?q=" + url.QueryEscape(text))
	var rows []Row
	for next != "" {
		status, body, err := s.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, QueryError.New("%s: %v", q.Object, err)
		}
		if status != http.StatusOK {
			apiErr := parseAPIError(status, body)
			if apiErr.Is(ErrSessionInvalid) {
				return nil, AuthError.Wrap(apiErr)
			}
			return nil, QueryError.Wrap(fmt.Errorf("%s: %w", q.Object, apiErr))
		}

		var page queryResponse
		if err := unmarshal(body, &page); err != nil {
			return nil, QueryError.New("%s: decode response: %v", q.Object, err)
		}
		for _, rec := range page.Records {
			delete(rec, "attributes")
			rows = append(rows, Row(rec))
		}

		next = ""
		if !page.Done && page.NextRecordsURL != "" {
			next = s.instanceURL + page.NextRecordsURL
		}
	}
	return rows, nil
}

// FetchBinary downloads the payload of the ContentVersion with the given id.
func (s *Session) FetchBinary(ctx context.Context, versionID string) ([]byte, error) {
	target := s.dataURL("/sobjects/ContentVersion/" + url.PathEscape(versionID) + "/VersionData")
	status, body, err := s.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, FetchError.Wrap(fmt.Errorf("%s: %w", versionID, err))
	}
	if status != http.StatusOK {
		return nil, FetchError.Wrap(fmt.Errorf("%s: %w", versionID, parseAPIError(status, body)))
	}
	return body, nil
}

type createResponse struct {
	ID      string         `json:"id"`
	Success bool           `json:"success"`
	Errors  []apiErrorBody `json:"errors"`
}

// CreateRecord inserts one sObject and returns its id.
func (s *Session) CreateRecord(ctx context.Context, sobject string, fields map[string]any) (string, error) {
	if !ValidIdentifier(sobject) {
		return "", UploadError.New("invalid sobject name %q", sobject)
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return "", UploadError.Wrap(err)
	}

	status, body, err := s.do(ctx, http.MethodPost, s.dataURL("/sobjects/"+sobject+"/"), payload)
	if err != nil {
		return "", UploadError.Wrap(fmt.Errorf("create %s: %w", sobject, err))
	}
	if status != http.StatusCreated && status != http.StatusOK {
		apiErr := parseAPIError(status, body)
		if apiErr.Is(ErrSessionInvalid) {
			return "", AuthError.Wrap(apiErr)
		}
		return "", UploadError.Wrap(fmt.Errorf("create %s: %w", sobject, apiErr))
	}

	var created createResponse
	if err := unmarshal(body, &created); err != nil {
		return "", UploadError.New("create %s: decode response: %v", sobject, err)
	}
	if !created.Success {
		apiErr := &APIError{StatusCode: status, Message: "create reported no success"}
		if len(created.Errors) > 0 {
			apiErr.Code = created.Errors[0].ErrorCode
			apiErr.Message = created.Errors[0].Message
		}
		return "", UploadError.Wrap(fmt.Errorf("create %s: %w", sobject, apiErr))
	}
	return created.ID, nil
}

func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
