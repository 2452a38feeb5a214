package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/fabworks/fabdeploy/faults"
)

// DefaultAPIRoot is the public API base URL.
const DefaultAPIRoot = "https://api.fabric.microsoft.com/v1"

// Version is stamped by the build; the User-Agent carries it.
var Version = "dev"

const errorCodeHeader = "x-ms-public-api-error-code"

// Error codes the client reacts to specially.
const (
	codeTokenExpired         = "TokenExpired"
	codeNameNotAvailableYet  = "ItemDisplayNameNotAvailableYet"
	codeEnvLibrariesNotFound = "EnvironmentLibrariesNotFound"
)

// Response is the terminal result of an Invoke: the final HTTP response
// after any polling and retries.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return faults.Newf(faults.ParsingError, "response body is empty")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return faults.New(faults.ParsingError, "decoding response body", err)
	}
	return nil
}

// CollectedCall is one request/response pair retained when response
// collection is enabled.
type CollectedCall struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

// Endpoint issues authenticated API calls with long-running-operation
// polling, throttle handling, and bounded transient retries built in.
type Endpoint struct {
	client    *http.Client
	tokens    TokenProvider
	log       logr.Logger
	limiter   *rate.Limiter
	metrics   *Metrics
	trace     io.Writer
	apiRoot   string
	agent     string
	throttle  RetryPolicy
	transient RetryPolicy
	reserved  RetryPolicy
	poll      RetryPolicy

	collect   bool
	mu        sync.Mutex
	collected []CollectedCall
}

type EndpointOption func(*Endpoint)

func WithHTTPClient(client *http.Client) EndpointOption {
	return func(e *Endpoint) { e.client = client }
}

func WithLogger(log logr.Logger) EndpointOption {
	return func(e *Endpoint) { e.log = log }
}

func WithAPIRoot(root string) EndpointOption {
	return func(e *Endpoint) { e.apiRoot = strings.TrimRight(root, "/") }
}

// WithRateLimit paces outgoing requests; the service throttles aggressively
// on bursts, so staying under the limit beats handling 429s.
func WithRateLimit(limiter *rate.Limiter) EndpointOption {
	return func(e *Endpoint) { e.limiter = limiter }
}

func WithMetrics(metrics *Metrics) EndpointOption {
	return func(e *Endpoint) { e.metrics = metrics }
}

// WithTrace writes a request/response transcript to w. Bearer tokens are
// never written.
func WithTrace(w io.Writer) EndpointOption {
	return func(e *Endpoint) { e.trace = w }
}

// WithResponseCollection retains every terminal response in memory.
func WithResponseCollection() EndpointOption {
	return func(e *Endpoint) { e.collect = true }
}

// WithRetryPolicies overrides the default policies. Tests shrink them.
func WithRetryPolicies(throttle, transient, reserved, poll RetryPolicy) EndpointOption {
	return func(e *Endpoint) {
		e.throttle = throttle
		e.transient = transient
		e.reserved = reserved
		e.poll = poll
	}
}

func NewEndpoint(tokens TokenProvider, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		client:    &http.Client{Timeout: 2 * time.Minute},
		tokens:    tokens,
		log:       logr.Discard(),
		limiter:   rate.NewLimiter(rate.Limit(10), 10),
		apiRoot:   DefaultAPIRoot,
		agent:     "fabdeploy/" + Version,
		throttle:  ThrottlePolicy,
		transient: TransientPolicy,
		reserved:  NameReservedPolicy,
		poll:      PollPolicy,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// URL joins path segments onto the API root. Segments beginning with http
// pass through unchanged (poll locations are absolute).
func (e *Endpoint) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return e.apiRoot + "/" + strings.TrimLeft(path, "/")
}

// Identity returns what the current bearer token says about the caller.
func (e *Endpoint) Identity(ctx context.Context) (Identity, error) {
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return Identity{}, err
	}
	return InspectToken(token)
}

// Collected returns the retained responses, when collection is enabled.
func (e *Endpoint) Collected() []CollectedCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	calls := make([]CollectedCall, len(e.collected))
	copy(calls, e.collected)
	return calls
}

// Invoke performs method on path (joined onto the API root unless absolute),
// driving any long-running operation to completion. body is marshaled to
// JSON unless it is nil, []byte, or json.RawMessage.
//
// The call returns the final response: the operation result for LROs, the
// immediate response otherwise. Terminal API failures carry a
// *faults.APIStatus in the error chain.
func (e *Endpoint) Invoke(ctx context.Context, method, path string, body any) (*Response, error) {
	payload, err := marshalBody(body)
	if err != nil {
		return nil, err
	}
	return e.invoke(ctx, method, path, payload, "application/json")
}

// UploadFile POSTs a multipart file upload, with the same polling and retry
// behavior as Invoke.
func (e *Endpoint) UploadFile(ctx context.Context, path, filename string, content []byte) (*Response, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return nil, faults.New(faults.InputError, "building upload for "+filename, err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, faults.New(faults.InputError, "building upload for "+filename, err)
	}
	if err := form.Close(); err != nil {
		return nil, faults.New(faults.InputError, "building upload for "+filename, err)
	}
	return e.invoke(ctx, http.MethodPost, path, buf.Bytes(), form.FormDataContentType())
}

func (e *Endpoint) invoke(ctx context.Context, method, path string, payload []byte, contentType string) (*Response, error) {
	curMethod := method
	curURL := e.URL(path)
	curBody := payload
	longRunning := false

	var throttleAttempt, transientAttempt, reservedAttempt, tokenAttempt int

	for {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, faults.New(faults.InputError, "deployment cancelled", ctx.Err())
		}

		resp, err := e.do(ctx, curMethod, curURL, curBody, contentType)
		if err != nil {
			if e.transient.Exhausted(transientAttempt) {
				return nil, faults.New(faults.APIRequestError,
					fmt.Sprintf("%s %s failed after %d attempts", curMethod, curURL, transientAttempt+1), err)
			}
			delay := e.transient.Delay(transientAttempt, 0)
			transientAttempt++
			e.metrics.observeRetry("transient")
			e.log.V(1).Info("request failed, retrying", "method", curMethod, "url", curURL,
				"attempt", transientAttempt, "delay", delay.String(), "error", err.Error())
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		errorCode := extractErrorCode(resp)
		retryAfter := parseRetryAfter(resp.Header)

		switch {
		case resp.StatusCode == http.StatusOK && longRunning:
			state := operationState(resp.Body)
			switch state {
			case "Succeeded":
				if loc := resp.Header.Get("Location"); loc != "" {
					// The operation has a result document; fetch it.
					curMethod, curURL, curBody = http.MethodGet, loc, nil
					longRunning = false
					continue
				}
				return e.finish(method, curURL, resp), nil
			case "Failed", "Undefined":
				return nil, faults.New(faults.APIRequestError, "operation "+state,
					&faults.APIStatus{Method: curMethod, URL: curURL, StatusCode: resp.StatusCode,
						ErrorCode: operationErrorCode(resp.Body), Message: truncate(string(resp.Body), 500)})
			default:
				if loc := resp.Header.Get("Location"); loc != "" {
					curURL = loc
				}
				if err := sleep(ctx, e.poll.Delay(0, retryAfter)); err != nil {
					return nil, err
				}
				continue
			}

		case resp.StatusCode == http.StatusAccepted:
			loc := resp.Header.Get("Location")
			if loc == "" {
				return nil, faults.Newf(faults.APIRequestError,
					"%s %s accepted without an operation location", curMethod, curURL)
			}
			curMethod, curURL, curBody = http.MethodGet, loc, nil
			longRunning = true
			if err := sleep(ctx, e.poll.Delay(0, retryAfter)); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			delay := e.throttle.Delay(throttleAttempt, retryAfter)
			throttleAttempt++
			e.metrics.observeRetry("throttle")
			e.log.V(1).Info("throttled, backing off", "url", curURL,
				"attempt", throttleAttempt, "delay", delay.String())
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized && errorCode == codeTokenExpired:
			if e.transient.Exhausted(tokenAttempt) {
				return nil, faults.New(faults.AuthError, "token kept expiring",
					apiStatus(curMethod, curURL, resp, errorCode))
			}
			tokenAttempt++
			e.metrics.observeRetry("token_expired")
			e.log.V(1).Info("token expired, refreshing")
			if r, ok := e.tokens.(Refresher); ok {
				if err := r.Refresh(ctx); err != nil {
					return nil, faults.New(faults.AuthError, "refreshing expired token", err)
				}
			}
			continue

		case resp.StatusCode == http.StatusBadRequest && errorCode == codeNameNotAvailableYet:
			if e.reserved.Exhausted(reservedAttempt) {
				return nil, faults.New(faults.APIRequestError,
					"display name stayed reserved", apiStatus(curMethod, curURL, resp, errorCode))
			}
			delay := e.reserved.Delay(reservedAttempt, retryAfter)
			reservedAttempt++
			e.metrics.observeRetry("name_reserved")
			e.log.V(1).Info("display name still reserved by a deleted item, waiting",
				"url", curURL, "attempt", reservedAttempt, "delay", delay.String())
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusNotFound && errorCode == codeEnvLibrariesNotFound:
			// An environment with no published libraries is a valid state,
			// not a failure.
			return e.finish(method, curURL, resp), nil

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return e.finish(method, curURL, resp), nil

		default:
			return nil, faults.New(faults.APIRequestError, "request rejected",
				apiStatus(curMethod, curURL, resp, errorCode))
		}
	}
}

// ListPage is one page of a list endpoint.
type listPage struct {
	Value           []json.RawMessage `json:"value"`
	ContinuationURI string            `json:"continuationUri"`
}

// InvokeList performs a GET and follows continuationUri pagination,
// returning the concatenated value arrays.
func (e *Endpoint) InvokeList(ctx context.Context, path string) ([]json.RawMessage, error) {
	url := e.URL(path)
	var all []json.RawMessage
	for url != "" {
		resp, err := e.Invoke(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		var page listPage
		if err := resp.Decode(&page); err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
		url = page.ContinuationURI
	}
	return all, nil
}

func (e *Endpoint) do(ctx context.Context, method, url string, body []byte, contentType string) (*Response, error) {
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", e.agent)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	httpResp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	e.metrics.observeRequest(method, httpResp.StatusCode)
	if e.trace != nil {
		fmt.Fprintf(e.trace, "%s %s -> %d\nrequest:  %s\nresponse: %s\n\n",
			method, url, httpResp.StatusCode, truncate(string(body), 2000), truncate(string(data), 2000))
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (e *Endpoint) finish(method, url string, resp *Response) *Response {
	if e.collect {
		e.mu.Lock()
		e.collected = append(e.collected, CollectedCall{
			Method: method, URL: url, StatusCode: resp.StatusCode, Body: resp.Body,
		})
		e.mu.Unlock()
	}
	return resp
}

func marshalBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, faults.New(faults.InputError, "encoding request body", err)
		}
		return data, nil
	}
}

func extractErrorCode(resp *Response) string {
	if code := resp.Header.Get(errorCodeHeader); code != "" {
		return code
	}
	var body struct {
		ErrorCode string `json:"errorCode"`
	}
	if json.Unmarshal(resp.Body, &body) == nil {
		return body.ErrorCode
	}
	return ""
}

func parseRetryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func operationState(body []byte) string {
	var op struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(body, &op) == nil {
		return op.Status
	}
	return ""
}

func operationErrorCode(body []byte) string {
	var op struct {
		Error struct {
			ErrorCode string `json:"errorCode"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &op) == nil {
		return op.Error.ErrorCode
	}
	return ""
}

func apiStatus(method, url string, resp *Response, errorCode string) *faults.APIStatus {
	return &faults.APIStatus{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode,
		ErrorCode:  errorCode,
		Message:    truncate(string(resp.Body), 500),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
