// Package webuntis is an HTTP client for the subset of the WebUntis JSON-RPC
// and REST API needed to build timetable feeds.
//
// Every response is decoded into wire structs and validated before it is
// turned into model types; a response of the wrong shape is ErrSchema, never
// a zero-valued lesson.
package webuntis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "untiscal/internal/log"
)

var (
	// ErrRPC is a JSON-RPC error object or an error envelope returned by the
	// provider. The provider's message is kept in the wrapping error.
	ErrRPC = errors.New("webuntis: provider error")
	// ErrSchema is a response that does not have the expected shape.
	ErrSchema = errors.New("webuntis: unexpected response")
	// ErrHTTP is a non-2xx HTTP status.
	ErrHTTP = errors.New("webuntis: http error")
)

const (
	rpcPath       = "/WebUntis/jsonrpc.do"
	rpcInternPath = "/WebUntis/jsonrpc_intern.do"

	DefaultIdentity  = "untiscal"
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_12_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/61.0.3163.79 Safari/537.36"
	DefaultTimeout   = 30 * time.Second
)

// Options tunes a Client. Zero values fall back to the defaults above.
type Options struct {
	Identity   string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Now is the clock used for one-time passwords.
	Now func() time.Time
}

// Client talks to one school on one WebUntis host.
type Client struct {
	base      string
	school    string
	identity  string
	userAgent string
	http      *http.Client
	now       func() time.Time
}

// New returns a client for school on the host at domain
// (e.g. "https://nessa.webuntis.com"; a bare host gets https://).
func New(domain, school string, opts Options) *Client {
	base := strings.TrimRight(domain, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	c := &Client{
		base:      base,
		school:    school,
		identity:  opts.Identity,
		userAgent: opts.UserAgent,
		http:      opts.HTTPClient,
		now:       opts.Now,
	}
	if c.identity == "" {
		c.identity = DefaultIdentity
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{
			Timeout: timeout,
			// The provider answers auth failures with redirects to its login page.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return c
}

// Session is the state of one logged-in provider session.
type Session struct {
	SessionID  string
	PersonID   int
	PersonType int
	KlasseID   int
}

func (c *Client) cookieHeader(s *Session) string {
	school := "_" + base64.StdEncoding.EncodeToString([]byte(c.school))
	if s == nil || s.SessionID == "" {
		return fmt.Sprintf(`schoolname="%s"`, school)
	}
	return fmt.Sprintf(`JSESSIONID=%s; schoolname="%s"`, s.SessionID, school)
}

type rpcRequest struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	JSONRPC string `json:"jsonrpc"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs a JSON-RPC call and decodes result into out. The raw HTTP
// response headers are returned for callers that need cookies.
func (c *Client) call(ctx context.Context, path string, query url.Values, s *Session, method string, params, out any) (http.Header, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("school", c.school)

	body, err := json.Marshal(rpcRequest{ID: c.identity, Method: method, Params: params, JSONRPC: "2.0"})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path+"?"+query.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req, s)

	appLog.Debug("webuntis rpc", "method", method, "school", c.school)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, fmt.Errorf("%w: %s: %s", ErrHTTP, method, resp.Status)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return resp.Header, fmt.Errorf("%w: %s: %v", ErrSchema, method, err)
	}
	if envelope.Error != nil {
		return resp.Header, fmt.Errorf("%w: %s: %s (code %d)", ErrRPC, method, envelope.Error.Message, envelope.Error.Code)
	}
	if out == nil {
		return resp.Header, nil
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return resp.Header, fmt.Errorf("%w: %s: empty result", ErrSchema, method)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return resp.Header, fmt.Errorf("%w: %s: %v", ErrSchema, method, err)
	}
	return resp.Header, nil
}

// restData is the {"data": ...} envelope of the REST endpoints.
type restData struct {
	Data  json.RawMessage `json:"data"`
	Error *rpcError       `json:"error"`
}

// get performs a REST GET and decodes the "data" member into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, s *Session, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req, s)

	appLog.Debug("webuntis rest", "path", path, "school", c.school)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: GET %s: %s %s", ErrHTTP, path, resp.Status, strings.TrimSpace(string(msg)))
	}

	var envelope restData
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrSchema, path, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%w: GET %s: %s", ErrRPC, path, envelope.Error.Message)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return fmt.Errorf("%w: GET %s: missing data", ErrSchema, path)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrSchema, path, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, s *Session) {
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Cookie", c.cookieHeader(s))
}
