package wire

// Relay command/result payloads (caller -> server -> agent -> server).

// KeyValue is a single header or query parameter entry.
type KeyValue struct {
	// Key is the header or parameter name.
	Key string `json:"key"`
	// Value is the header or parameter value.
	Value string `json:"value"`
	// Enabled toggles the entry. A missing flag means enabled.
	Enabled *bool `json:"enabled,omitempty"`
}

// IsEnabled reports whether the entry should be applied to the outgoing call.
func (kv KeyValue) IsEnabled() bool {
	return kv.Enabled == nil || *kv.Enabled
}

// Body type values.
const (
	BodyTypeJSON = "json"
	BodyTypeRaw  = "raw"
)

// Body describes an optional request body.
type Body struct {
	// Type is one of "json" or "raw".
	Type string `json:"type"`
	// Content is a structured value for "json" bodies, or a string passed
	// through unchanged for "raw" bodies.
	Content any `json:"content,omitempty"`
}

// Auth type values.
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeBearer = "bearer"
	AuthTypeAPIKey = "apikey"
)

// API key placement values.
const (
	APIKeyInHeader = "header"
	APIKeyInQuery  = "query"
)

// Auth describes an optional authentication shape applied by the agent.
type Auth struct {
	// Type is one of "none", "basic", "bearer" or "apikey".
	Type string `json:"type"`
	// Username is used by basic auth.
	Username string `json:"username,omitempty"`
	// Password is used by basic auth.
	Password string `json:"password,omitempty"`
	// Token is used by bearer auth.
	Token string `json:"token,omitempty"`
	// Key is the header or query parameter name for apikey auth.
	Key string `json:"key,omitempty"`
	// Value is the api key value.
	Value string `json:"value,omitempty"`
	// AddTo is "header" (default) or "query" for apikey auth.
	AddTo string `json:"addTo,omitempty"`
}

// RelayRequest is the caller-submitted description of a fetch. It is also the
// payload of the "perform-fetch" command.
type RelayRequest struct {
	// RequestID correlates the command with its result. The server generates
	// one when the caller leaves it empty.
	RequestID string `json:"requestId"`
	// Method is the HTTP method (defaults to GET).
	Method string `json:"method"`
	// URL is the loopback/private target.
	URL string `json:"url"`
	// Headers are request headers.
	Headers []KeyValue `json:"headers,omitempty"`
	// Params are query parameters; only enabled entries are applied.
	Params []KeyValue `json:"params,omitempty"`
	// Body is the optional request body.
	Body *Body `json:"body,omitempty"`
	// Auth is the optional authentication shape.
	Auth *Auth `json:"auth,omitempty"`
}

// Response body type values.
const (
	ResponseBodyJSON = "json"
	ResponseBodyText = "text"
)

// FetchComplete is the agent -> server "fetch-complete" payload.
type FetchComplete struct {
	// RequestID is the id of the originating command.
	RequestID string `json:"requestId"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// StatusText is the reason phrase.
	StatusText string `json:"statusText"`
	// Headers are the response headers (first value per name).
	Headers map[string]string `json:"headers,omitempty"`
	// Body is the parsed JSON value or the raw text.
	Body any `json:"body"`
	// BodyType is "json" when Body holds a parsed value, "text" otherwise.
	BodyType string `json:"bodyType"`
	// ElapsedMs is the wall time of the fetch in milliseconds.
	ElapsedMs int64 `json:"elapsedMs"`
	// SizeBytes is the size of the response body in bytes.
	SizeBytes int64 `json:"sizeBytes"`
	// CompletedAt is a wall-clock timestamp in milliseconds since epoch.
	CompletedAt int64 `json:"completedAt"`
}

// FetchError is the agent -> server "fetch-error" payload.
type FetchError struct {
	// RequestID is the id of the originating command.
	RequestID string `json:"requestId"`
	// Message is a human-readable description of the network failure.
	Message string `json:"message"`
}
