package webhook

import (
	"context"
	"encoding/json"
)

// ValidateFunc reports whether a raw body is acceptable for a source.
// It must return false, not panic, for malformed input.
type ValidateFunc func(body json.RawMessage) bool

// TransformFunc maps a validated body to the normalized events for one request.
type TransformFunc func(ctx context.Context, body json.RawMessage, exec *Execution) ([]Event, error)

// ResponseFunc builds a custom acknowledgment body for an accepted request.
type ResponseFunc func(body json.RawMessage, exec *Execution) any

// SourceConfig describes one webhook source. It is registered once and
// treated as read-only afterwards.
type SourceConfig struct {
	// Name is the unique source identifier (e.g., "AdCallsHook")
	Name string

	// DisplayName is shown to workflow authors (e.g., "AdCalls Hook")
	DisplayName string

	Description string
	Icon        string
	Categories  []string

	// DefaultPath is the route path suggested for new endpoints of this source
	DefaultPath string

	Validate      ValidateFunc
	Transform     TransformFunc
	BuildResponse ResponseFunc
}

// Options are the per-endpoint enrichment switches.
type Options struct {
	IncludeRawBody bool `yaml:"include_raw_body" json:"includeRawBody"`
	IncludeHeaders bool `yaml:"include_headers" json:"includeHeaders"`
}

// Params carries the endpoint parameters a dispatch is evaluated against.
type Params struct {
	Secret       string
	SecretHeader string
	Path         string
	Options      Options
}

// InboundRequest is one webhook call as handed over by the host.
type InboundRequest struct {
	Headers Headers
	Body    json.RawMessage
	Params  map[string]string
}

// Execution is the per-request context passed to transformers and response builders.
type Execution struct {
	ID      string
	Source  string
	Path    string
	Params  map[string]string
	Headers Headers
}

// Status classifies a dispatch response.
type Status string

const (
	StatusAccepted        Status = "accepted"
	StatusRejectedAuth    Status = "rejected_auth"
	StatusRejectedPayload Status = "rejected_payload"
)

// Response is the acknowledgment returned to the webhook caller.
type Response struct {
	Status Status `json:"status"`
	Code   int    `json:"code"`
	Body   any    `json:"body"`
}

// Ack is the default acceptance body.
type Ack struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON body for rejected and failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// State is a dispatcher pipeline state.
type State string

const (
	StateReceived        State = "received"
	StateSecretChecked   State = "secret_checked"
	StateValidated       State = "validated"
	StateTransformed     State = "transformed"
	StateEnriched        State = "enriched"
	StateResponded       State = "responded"
	StateRejectedAuth    State = "rejected_auth"
	StateRejectedPayload State = "rejected_payload"
	StateMissingConfig   State = "missing_config"
	StateTransformFailed State = "transform_failed"
)

// Result is the outcome of one dispatch: the response for the caller and the
// events for the downstream consumer.
type Result struct {
	ExecutionID string   `json:"execution_id"`
	Source      string   `json:"source"`
	State       State    `json:"state"`
	Response    Response `json:"response"`
	Events      []Event  `json:"events"`
}

// Reserved enrichment fields.
const (
	FieldRawBody = "_rawBody"
	FieldHeaders = "_headers"
)

// Default values
const (
	DefaultSecretHeader = "x-ac-webhook-secret"
	DefaultMaxBodySize  = 1048576 // 1 MB
	DefaultListen       = "127.0.0.1:8081"
)

// DefaultNamespacePrefixes are stripped from runtime type names before lookup.
var DefaultNamespacePrefixes = []string{"CUSTOM."}
