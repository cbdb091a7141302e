package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"

	"sora/internal/httputil"
)

var (
	// ErrInvalidInput is returned for malformed bridge requests.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDecode is returned when a body can't be decoded as text.
	ErrDecode = errors.New("response body is not valid text")
)

// FetchRequest is a script's request to the native networking bridge.
type FetchRequest struct {
	URL             string
	Headers         map[string]string
	Method          string
	Body            string
	FollowRedirects bool
	Encoding        string
}

// FetchResponse is what the bridge hands back to the script.
type FetchResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// Bridge performs script network requests.
type Bridge struct {
	client     *http.Client
	noRedirect *http.Client
}

// NewBridge creates a Bridge over client.
func NewBridge(client *http.Client) *Bridge {
	if client == nil {
		client = httputil.NewClient()
	}
	return &Bridge{client: client, noRedirect: httputil.WithoutRedirects(client)}
}

// Do executes req. Any HTTP response, whatever its status, is returned;
// errors cover invalid input, transport failures, oversized bodies and
// undecodable text.
func (b *Bridge) Do(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	if err := httputil.ValidateURL(req.URL); err != nil {
		return FetchResponse{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if method == http.MethodGet && req.Body != "" {
		return FetchResponse{}, fmt.Errorf("%w: GET request with a body", ErrInvalidInput)
	}

	var body *strings.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	var httpReq *http.Request
	var err error
	if body != nil {
		httpReq, err = http.NewRequestWithContext(ctx, method, req.URL, body)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, req.URL, nil)
	}
	if err != nil {
		return FetchResponse{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	httputil.SetHeaders(httpReq, req.Headers)

	client := b.client
	if !req.FollowRedirects {
		client = b.noRedirect
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return FetchResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := httputil.ReadLimited(resp.Body, httputil.MaxBodySize)
	if err != nil {
		return FetchResponse{}, err
	}
	text, err := decodeText(raw, req.Encoding)
	if err != nil {
		return FetchResponse{}, err
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return FetchResponse{Status: resp.StatusCode, Headers: headers, Body: text}, nil
}

// decodeText decodes raw with the named encoding, falling back to UTF-8.
func decodeText(raw []byte, encoding string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(encoding))
	if name != "" && name != "utf-8" && name != "utf8" {
		if enc, err := htmlindex.Get(name); err == nil {
			if decoded, err := enc.NewDecoder().Bytes(raw); err == nil {
				return string(decoded), nil
			}
		}
	}
	if !utf8.Valid(raw) {
		return "", ErrDecode
	}
	return string(raw), nil
}
