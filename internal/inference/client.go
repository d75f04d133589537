// Package inference is the client for the remote inference endpoint.  One
// call: POST <base>/predict with a multipart body carrying the image and a
// fresh identity token, answered by three artifact URLs.  The call is a
// single synchronous exchange with no client-side timeout: inference can
// legitimately take a long time, so only the transport's own limits apply.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// Result holds the three artifact URLs of one successful submission.
type Result struct {
	OriginalURL string `json:"original_url"`
	EnhancedURL string `json:"enhanced_url"`
	ResultURL   string `json:"result_url"`
}

// NetworkError wraps a transport-level failure: DNS, refused connection,
// reset, timeout.  The exchange never completed, so nothing can be said
// about the server's view of the request.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("inference service unreachable: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a completed exchange the server answered with a failure,
// or a success response that was missing required fields.  Message is the
// server's own error text when it sent one, else a status-derived string.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// Client performs predict calls.  HTTPClient may be replaced in tests; the
// default deliberately carries no timeout.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: &http.Client{}}
}

// Predict submits an image with a fresh ID token and parses the artifact
// URLs out of the response.
func (c *Client) Predict(ctx context.Context, filename string, file []byte, idToken string) (Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(file); err != nil {
		return Result{}, err
	}
	if err := mw.WriteField("idToken", idToken); err != nil {
		return Result{}, err
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/predict", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Result{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &NetworkError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, &ServerError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, raw)}
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, &ServerError{Status: resp.StatusCode, Message: "inference service returned a malformed response"}
	}
	// All three URLs must be present; a partial answer is unusable.
	if res.OriginalURL == "" || res.EnhancedURL == "" || res.ResultURL == "" {
		return Result{}, &ServerError{Status: resp.StatusCode, Message: "inference service returned a malformed response"}
	}
	return res, nil
}

// errorMessage extracts the server's error field, falling back to a
// generic status string when the body is absent or unparsable.
func errorMessage(status int, raw []byte) string {
	var eb struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		return eb.Error
	}
	return fmt.Sprintf("Server error: %d", status)
}
