// Package remote is the HTTP client for the annotation persistence API. It
// implements the viewer.Remote boundary and carries the status
// classification the sync coordinator's retry policy depends on.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"marginalia/internal/annotation"
	"marginalia/internal/geometry"
)

// APIError is a response the server actually produced. Transport failures
// (connection refused, timeout) never become APIErrors; they stay plain
// wrapped errors, which the retry classifier treats as transient.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Transient reports whether the failure is worth retrying: server errors
// are, client errors (not-found, validation) are not.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500
}

// Client talks to the annotation API. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithHTTPClient overrides the transport; timeout semantics live there.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// createRequest is the create payload. Rects go up with the request; the
// server stores them but never echoes them back.
type createRequest struct {
	PageNumber  int              `json:"pageNumber"`
	StartOffset int              `json:"startOffset"`
	EndOffset   int              `json:"endOffset"`
	Color       annotation.Color `json:"color"`
	Note        string           `json:"note,omitempty"`
	Rects       []geometry.Rect  `json:"rects"`
}

// annotationResponse mirrors the server's wire record. Geometry is absent.
type annotationResponse struct {
	ID          string           `json:"id"`
	DocumentID  string           `json:"documentId"`
	PageNumber  int              `json:"pageNumber"`
	StartOffset int              `json:"startOffset"`
	EndOffset   int              `json:"endOffset"`
	Color       annotation.Color `json:"color"`
	Note        string           `json:"note"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func (r annotationResponse) toAnnotation() annotation.Annotation {
	return annotation.Annotation{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Position: annotation.Position{
			PageNumber:  r.PageNumber,
			StartOffset: r.StartOffset,
			EndOffset:   r.EndOffset,
		},
		Color:     r.Color,
		Note:      r.Note,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (c *Client) CreateAnnotation(ctx context.Context, documentID string, a annotation.Annotation) (annotation.Annotation, error) {
	body := createRequest{
		PageNumber:  a.Position.PageNumber,
		StartOffset: a.Position.StartOffset,
		EndOffset:   a.Position.EndOffset,
		Color:       a.Color,
		Note:        a.Note,
		Rects:       a.Position.Rects,
	}
	var resp annotationResponse
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/documents/%s/annotations", documentID), body, http.StatusCreated, &resp)
	if err != nil {
		return annotation.Annotation{}, err
	}
	return resp.toAnnotation(), nil
}

func (c *Client) UpdateAnnotation(ctx context.Context, documentID, id string, changes annotation.Changes) (annotation.Annotation, error) {
	var resp annotationResponse
	err := c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/api/documents/%s/annotations/%s", documentID, id), changes, http.StatusOK, &resp)
	if err != nil {
		return annotation.Annotation{}, err
	}
	return resp.toAnnotation(), nil
}

func (c *Client) DeleteAnnotation(ctx context.Context, documentID, id string) error {
	return c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/api/documents/%s/annotations/%s", documentID, id), nil, http.StatusNoContent, nil)
}

func (c *Client) ListAnnotations(ctx context.Context, documentID string) ([]annotation.Annotation, error) {
	var resp struct {
		Annotations []annotationResponse `json:"annotations"`
	}
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/documents/%s/annotations", documentID), nil, http.StatusOK, &resp)
	if err != nil {
		return nil, err
	}
	list := make([]annotation.Annotation, 0, len(resp.Annotations))
	for _, r := range resp.Annotations {
		list = append(list, r.toAnnotation())
	}
	return list, nil
}

// DocumentText fetches the flattened text content for a document.
func (c *Client) DocumentText(ctx context.Context, documentID string) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/documents/%s/text", documentID), nil, http.StatusOK, &resp)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// No response at all: stays unclassified, retried as transient.
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN"}
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Code != "" {
			apiErr.Code = body.Code
		}
		apiErr.Message = body.Error
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
