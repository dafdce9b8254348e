package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fest_router/native/internal/domain"
)

// Client calls the control API of a running router.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client. token may be empty when the router runs
// without authentication.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		// negotiation on the router includes candidate gathering
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) RegisterSource(ctx context.Context, blob []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/api/sources", blob)
}

func (c *Client) RegisterSink(ctx context.Context, blob []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/api/sinks", blob)
}

// OfferSink asks the router to create a Sink and returns the router-offer blob.
func (c *Client) OfferSink(ctx context.Context, id, name string) ([]byte, error) {
	body, err := api.Marshal(offerSinkRequest{ID: id, Name: name})
	if err != nil {
		return nil, fmt.Errorf("marshal offer request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/sinks/offer", body)
}

func (c *Client) CompleteSinkOffer(ctx context.Context, blob []byte) error {
	_, err := c.do(ctx, http.MethodPost, "/api/sinks/answer", blob)
	return err
}

// Assign routes sourceID to sinkID; an empty sourceID selects no signal.
func (c *Client) Assign(ctx context.Context, sinkID, sourceID string) error {
	req := assignRequest{}
	if sourceID != "" {
		req.SourceID = &sourceID
	}
	body, err := api.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal assign request: %w", err)
	}
	_, err = c.do(ctx, http.MethodPut, "/api/routes/"+url.PathEscape(sinkID), body)
	return err
}

func (c *Client) Remove(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) State(ctx context.Context) (domain.State, error) {
	var st domain.State
	body, err := c.do(ctx, http.MethodGet, "/api/state", nil)
	if err != nil {
		return st, err
	}
	if err := api.Unmarshal(body, &st); err != nil {
		return st, fmt.Errorf("unmarshal state: %w", err)
	}
	return st, nil
}

// APIError is a non-2xx answer from the router.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error string `json:"error"`
		}
		msg := string(respBody)
		if api.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return respBody, nil
}
