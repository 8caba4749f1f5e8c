package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bhandras/delight/relay/internal/target"
	"github.com/bhandras/delight/relay/shared/wire"
	"github.com/go-resty/resty/v2"
)

const (
	// DefaultFetchTimeout bounds a single local fetch.
	DefaultFetchTimeout = 30 * time.Second

	maxRedirects = 10
	userAgent    = "localhost-relay-agent/1.0"
)

// ErrTargetNotAllowed is returned when a command addresses a host outside
// loopback and private address space.
var ErrTargetNotAllowed = errors.New("target is not a localhost or private network address")

// Executor performs relay fetches against local targets.
type Executor struct {
	client *resty.Client
	now    func() time.Time
}

// NewExecutor creates an executor whose fetches are bounded by timeout.
// Redirects are followed only while they stay inside the allowed address
// space.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetRedirectPolicy(resty.RedirectPolicyFunc(checkRedirect))

	return &Executor{
		client: client,
		now:    time.Now,
	}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if !target.IsAllowed(req.URL.String()) {
		return fmt.Errorf("redirect to %s: %w", req.URL.Host, ErrTargetNotAllowed)
	}
	return nil
}

// Execute performs req and returns the materialized response. Network
// failures are returned as errors; HTTP error statuses are not failures.
func (e *Executor) Execute(ctx context.Context, req wire.RelayRequest) (wire.FetchComplete, error) {
	if !target.IsAllowed(req.URL) {
		return wire.FetchComplete{}, fmt.Errorf("%s: %w", req.URL, ErrTargetNotAllowed)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	r, err := e.buildRequest(ctx, method, req)
	if err != nil {
		return wire.FetchComplete{}, err
	}

	start := e.now()
	resp, err := r.Execute(method, req.URL)
	elapsed := e.now().Sub(start)
	if err != nil {
		return wire.FetchComplete{}, fmt.Errorf("fetch failed: %w", err)
	}

	body := resp.Body()
	result := wire.FetchComplete{
		RequestID:   req.RequestID,
		Status:      resp.StatusCode(),
		StatusText:  statusText(resp),
		Headers:     flattenHeaders(resp.Header()),
		ElapsedMs:   elapsed.Milliseconds(),
		SizeBytes:   int64(len(body)),
		CompletedAt: e.now().UnixMilli(),
	}
	result.Body, result.BodyType = decodeBody(resp.Header().Get("Content-Type"), body)
	return result, nil
}

func (e *Executor) buildRequest(ctx context.Context, method string, req wire.RelayRequest) (*resty.Request, error) {
	r := e.client.R().SetContext(ctx)

	for _, h := range req.Headers {
		if h.IsEnabled() && h.Key != "" {
			r.SetHeader(h.Key, h.Value)
		}
	}
	for _, p := range req.Params {
		if p.IsEnabled() && p.Key != "" {
			r.QueryParam.Add(p.Key, p.Value)
		}
	}

	if err := applyAuth(r, req.Auth); err != nil {
		return nil, err
	}

	if req.Body != nil && method != http.MethodGet && method != http.MethodHead {
		if err := applyBody(r, req.Body); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func applyAuth(r *resty.Request, auth *wire.Auth) error {
	if auth == nil {
		return nil
	}

	switch strings.ToLower(auth.Type) {
	case "", wire.AuthTypeNone:
	case wire.AuthTypeBasic:
		r.SetBasicAuth(auth.Username, auth.Password)
	case wire.AuthTypeBearer:
		r.SetHeader("Authorization", "Bearer "+auth.Token)
	case wire.AuthTypeAPIKey:
		if auth.Key == "" {
			return errors.New("apikey auth requires a key name")
		}
		if strings.EqualFold(auth.AddTo, wire.APIKeyInQuery) {
			r.QueryParam.Set(auth.Key, auth.Value)
		} else {
			r.SetHeader(auth.Key, auth.Value)
		}
	default:
		return fmt.Errorf("unsupported auth type %q", auth.Type)
	}
	return nil
}

func applyBody(r *resty.Request, body *wire.Body) error {
	switch strings.ToLower(body.Type) {
	case wire.BodyTypeJSON:
		data, err := json.Marshal(body.Content)
		if err != nil {
			return fmt.Errorf("failed to encode json body: %w", err)
		}
		if r.Header.Get("Content-Type") == "" {
			r.SetHeader("Content-Type", "application/json")
		}
		r.SetBody(data)
	case wire.BodyTypeRaw, "":
		switch c := body.Content.(type) {
		case nil:
		case string:
			r.SetBody([]byte(c))
		default:
			// Structured content under a raw body is sent as its JSON text.
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("failed to encode raw body: %w", err)
			}
			r.SetBody(data)
		}
	default:
		return fmt.Errorf("unsupported body type %q", body.Type)
	}
	return nil
}

func statusText(resp *resty.Response) string {
	code := resp.StatusCode()
	if text := strings.TrimPrefix(resp.Status(), strconv.Itoa(code)+" "); text != "" && text != resp.Status() {
		return text
	}
	return http.StatusText(code)
}

// flattenHeaders keeps the first value of every header under its lower-cased
// name.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

// decodeBody parses JSON bodies and falls back to text when the content type
// is not JSON or the payload does not parse.
func decodeBody(contentType string, body []byte) (any, string) {
	if strings.Contains(strings.ToLower(contentType), "application/json") && len(body) > 0 {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v, wire.ResponseBodyJSON
		}
	}
	return string(body), wire.ResponseBodyText
}
