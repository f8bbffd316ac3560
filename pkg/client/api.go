// Package client is the consumer side of the messaging API: a REST client,
// a realtime connection, and the state kept for the thread on screen.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsechat/internal/domain"
)

type (
	Message     = domain.Message
	Reaction    = domain.Reaction
	MessageType = domain.MessageType
)

const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type SendRequest struct {
	ToUser    uuid.UUID  `json:"to_user"`
	Text      string     `json:"text,omitempty"`
	Media     string     `json:"media,omitempty"`
	MediaType string     `json:"media_type,omitempty"`
	ReplyTo   *uuid.UUID `json:"reply_to,omitempty"`
	ClientID  string     `json:"client_id,omitempty"`
}

type Upload struct {
	URL       string      `json:"url"`
	MediaType MessageType `json:"media_type"`
	Size      int64       `json:"size"`
}

// ProgressFunc receives bytes sent so far and the total size.
type ProgressFunc func(sent, total int64)

type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*API)

func WithHTTPClient(c *http.Client) Option {
	return func(a *API) { a.httpClient = c }
}

func WithTimeout(timeout time.Duration) Option {
	return func(a *API) { a.httpClient.Timeout = timeout }
}

// NewAPI talks to the server at baseURL (scheme and host, no path) with the
// given session token.
func NewAPI(baseURL, token string, opts ...Option) *API {
	a := &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) BaseURL() string { return a.baseURL }
func (a *API) Token() string   { return a.token }

func (a *API) Send(ctx context.Context, req SendRequest) (*Message, error) {
	var msg Message
	if err := a.do(ctx, http.MethodPost, "/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Thread returns every message between the caller and other. The server
// marks the ones addressed to the caller as seen.
func (a *API) Thread(ctx context.Context, other uuid.UUID) ([]Message, error) {
	var msgs []Message
	body := map[string]uuid.UUID{"other_user": other}
	if err := a.do(ctx, http.MethodPost, "/messages/thread", body, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (a *API) Edit(ctx context.Context, id uuid.UUID, text string) (*Message, error) {
	var msg Message
	if err := a.do(ctx, http.MethodPut, "/messages/"+id.String(), map[string]string{"text": text}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) Delete(ctx context.Context, id uuid.UUID) error {
	return a.do(ctx, http.MethodDelete, "/messages/"+id.String(), nil, nil)
}

func (a *API) React(ctx context.Context, id uuid.UUID, emoji string) (*Message, error) {
	var msg Message
	if err := a.do(ctx, http.MethodPost, "/messages/"+id.String()+"/react", map[string]string{"emoji": emoji}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *API) ClearThread(ctx context.Context, other uuid.UUID) (int64, error) {
	var out struct {
		DeletedCount int64 `json:"deleted_count"`
	}
	if err := a.do(ctx, http.MethodDelete, "/messages/thread/"+other.String(), nil, &out); err != nil {
		return 0, err
	}
	return out.DeletedCount, nil
}

// Upload streams r to the media endpoint as a multipart file. onProgress,
// when set, is called as the body is read by the transport.
func (a *API) Upload(ctx context.Context, name string, r io.Reader, size int64, onProgress ProgressFunc) (*Upload, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, &progressReader{r: r, total: size, fn: onProgress})
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := a.newRequest(ctx, http.MethodPost, "/media", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var up Upload
	if err := a.exchange(req, &up); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return &up, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := a.newRequest(ctx, method, path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.exchange(req, out)
}

func (a *API) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+"/api/v1"+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return req, nil
}

func (a *API) exchange(req *http.Request, out any) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
			apiErr = envelope.Error
			apiErr.Status = resp.StatusCode
		} else {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}
