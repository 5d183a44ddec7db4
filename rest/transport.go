package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Request describes one API call.
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values
	// Body is encoded as JSON. With Files it becomes the payload_json part.
	Body   any
	Files  []File
	Reason string
	Header http.Header
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// File is an attachment uploaded with a multipart request.
type File struct {
	Name        string
	Description string
	ContentType string
	Data        []byte
}

// Response is a raw API response. Non-2xx statuses are returned as-is.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	RateLimit RateLimit
}

// RateLimit holds the rate limit headers of a response.
type RateLimit struct {
	// Limit and Remaining are -1 when the header is absent.
	Limit     int
	Remaining int
	// Reset is zero when neither reset header is present.
	Reset  time.Time
	Bucket string
	Global bool
	// RetryAfter is negative when the header is absent.
	RetryAfter time.Duration
}

// Doer sends a request and returns the raw response.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Transport sends requests over HTTP. It applies no rate limiting.
type Transport struct {
	token      string
	baseURL    string
	version    string
	userAgent  string
	httpClient *http.Client
	clock      Clock
	onRequest  func(*http.Request)
	onResponse func(*Response)
}

// NewTransport creates a transport authenticating with token.
func NewTransport(token string, opts ...Option) *Transport {
	return newTransport(token, newConfig(opts))
}

func newTransport(token string, cfg *config) *Transport {
	return &Transport{
		token:      token,
		baseURL:    cfg.baseURL,
		version:    cfg.version,
		userAgent:  cfg.userAgent,
		httpClient: cfg.httpClient,
		clock:      cfg.clock,
		onRequest:  cfg.onRequest,
		onResponse: cfg.onResponse,
	}
}

// Do implements Doer.
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	method := req.method()
	u, err := t.buildURL(req.Endpoint, req.Query)
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: req.Endpoint, Err: err}
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: req.Endpoint, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: req.Endpoint, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Authorization", authorization(t.token))
	httpReq.Header.Set("User-Agent", t.userAgent)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Reason != "" {
		httpReq.Header.Set("X-Audit-Log-Reason", url.PathEscape(req.Reason))
	}

	if t.onRequest != nil {
		t.onRequest(httpReq)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: req.Endpoint, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: req.Endpoint, Err: err}
	}

	resp := &Response{
		Status:    httpResp.StatusCode,
		Header:    httpResp.Header,
		Body:      data,
		RateLimit: parseRateLimit(httpResp.Header, t.clock.Now()),
	}
	if t.onResponse != nil {
		t.onResponse(resp)
	}
	return resp, nil
}

// buildURL joins the base URL and endpoint, adding the version prefix
// unless one of them already carries it.
func (t *Transport) buildURL(endpoint string, query url.Values) (string, error) {
	base := strings.TrimRight(t.baseURL, "/")
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	prefix := "/" + t.version
	if t.version != "" && !strings.HasSuffix(base, prefix) && !strings.HasPrefix(endpoint, prefix+"/") {
		endpoint = prefix + endpoint
	}

	u, err := url.Parse(base + endpoint)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// authorization defaults bare tokens to bot tokens.
func authorization(token string) string {
	if strings.HasPrefix(token, "Bot ") || strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bot " + token
}

func encodeBody(req *Request) (io.Reader, string, error) {
	if len(req.Files) > 0 {
		return encodeMultipart(req.Body, req.Files)
	}
	if req.Body == nil {
		return nil, "", nil
	}
	data, err := json.Marshal(req.Body)
	if err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

type attachment struct {
	ID          int    `json:"id"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart writes one files[n] part per file followed by a
// payload_json part carrying the body with an attachments array.
func encodeMultipart(body any, files []File) (io.Reader, string, error) {
	payload := map[string]json.RawMessage{}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, "", fmt.Errorf("body with files must be a JSON object: %w", err)
		}
	}

	attachments := make([]attachment, len(files))
	for i, f := range files {
		attachments[i] = attachment{ID: i, Filename: f.Name, Description: f.Description}
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return nil, "", err
	}
	payload["attachments"] = raw

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i, f := range files {
		ct := f.ContentType
		if ct == "" {
			ct = http.DetectContentType(f.Data)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[%d]"; filename="%s"`, i, quoteEscaper.Replace(f.Name)))
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}

	pj, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("payload_json", string(pj)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// parseRateLimit reads the rate limit headers. X-RateLimit-Reset-After
// takes precedence over X-RateLimit-Reset.
func parseRateLimit(h http.Header, now time.Time) RateLimit {
	rl := RateLimit{
		Limit:      headerInt(h, "X-RateLimit-Limit"),
		Remaining:  headerInt(h, "X-RateLimit-Remaining"),
		Bucket:     h.Get("X-RateLimit-Bucket"),
		Global:     strings.EqualFold(h.Get("X-RateLimit-Global"), "true"),
		RetryAfter: -1,
	}

	if after, ok := headerSeconds(h, "X-RateLimit-Reset-After"); ok {
		rl.Reset = now.Add(after)
	} else if v := h.Get("X-RateLimit-Reset"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			rl.Reset = time.UnixMilli(int64(secs * 1000))
		}
	}

	if v := h.Get("Retry-After"); v != "" {
		if after, ok := headerSeconds(h, "Retry-After"); ok {
			rl.RetryAfter = after
		} else if at, err := http.ParseTime(v); err == nil {
			rl.RetryAfter = max(at.Sub(now), 0)
		}
	}
	return rl
}

func headerInt(h http.Header, key string) int {
	v := h.Get(key)
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func headerSeconds(h http.Header, key string) (time.Duration, bool) {
	v := h.Get(key)
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}
