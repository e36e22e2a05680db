package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Dispatcher runs the verify, validate, transform, enrich, respond pipeline
// for one request. It keeps no per-request state and is safe for concurrent use.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	newID    func() string
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Registry returns the registry the dispatcher resolves sources from.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch processes req for the named source.
//
// Rejections (bad secret, invalid payload) come back as a Result with a nil
// error. Only a missing source config (ErrMissingConfig) and a transformer
// failure (*TransformError) are returned as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, source string, params Params, req InboundRequest) (Result, error) {
	name := d.registry.ResolveName(source)
	res := Result{
		ExecutionID: d.newID(),
		Source:      name,
		State:       StateReceived,
	}
	logger := d.logger.With("source", name, "execution_id", res.ExecutionID)

	cfg, ok := d.registry.Lookup(name)
	if !ok {
		res.State = StateMissingConfig
		logger.Error("no source config registered", "type", source)
		return res, fmt.Errorf("%w: %s", ErrMissingConfig, name)
	}

	secretHeader := params.SecretHeader
	if secretHeader == "" {
		secretHeader = DefaultSecretHeader
	}
	if !VerifySecret(req.Headers, secretHeader, params.Secret) {
		res.State = StateRejectedAuth
		res.Response = rejection(StatusRejectedAuth, http.StatusUnauthorized, msgInvalidSecret)
		logger.Warn("webhook secret verification failed", "header", secretHeader, "path", params.Path)
		return res, nil
	}
	res.State = StateSecretChecked

	if !cfg.Validate(req.Body) {
		res.State = StateRejectedPayload
		res.Response = rejection(StatusRejectedPayload, http.StatusBadRequest, msgInvalidPayload)
		logger.Warn("webhook payload rejected", "path", params.Path)
		return res, nil
	}
	res.State = StateValidated

	exec := &Execution{
		ID:      res.ExecutionID,
		Source:  name,
		Path:    params.Path,
		Params:  req.Params,
		Headers: req.Headers.Without(secretHeader),
	}

	events, err := cfg.Transform(ctx, req.Body, exec)
	if err != nil {
		res.State = StateTransformFailed
		logger.Error("webhook transform failed", "error", err)
		return res, &TransformError{Source: name, Err: err}
	}
	res.State = StateTransformed

	res.Events = enrich(events, req, secretHeader, params.Options)
	res.State = StateEnriched

	res.Response = Response{
		Status: StatusAccepted,
		Code:   http.StatusOK,
		Body:   DefaultResponse(),
	}
	if cfg.BuildResponse != nil {
		res.Response.Body = cfg.BuildResponse(req.Body, exec)
	}
	res.State = StateResponded

	logger.Debug("webhook dispatched", "events", len(res.Events), "path", params.Path)
	return res, nil
}

// enrich copies events, assigns pairing indices in emission order and
// attaches the raw body and headers when requested. The secret header is
// never attached.
func enrich(events []Event, req InboundRequest, secretHeader string, opts Options) []Event {
	out := make([]Event, len(events))

	var headers map[string]any
	if opts.IncludeHeaders {
		headers = req.Headers.Without(secretHeader).Object()
	}

	var rawBody any
	if opts.IncludeRawBody {
		// a body that is not valid JSON is kept as a string so the event still encodes
		if json.Valid(req.Body) {
			rawBody = json.RawMessage(append([]byte(nil), req.Body...))
		} else {
			rawBody = string(req.Body)
		}
	}

	for i, ev := range events {
		fields := ev.Fields.clone()
		if opts.IncludeRawBody {
			fields = fields.With(FieldRawBody, rawBody)
		}
		if opts.IncludeHeaders {
			fields = fields.With(FieldHeaders, headers)
		}
		out[i] = Event{Fields: fields, PairedItem: i}
	}
	return out
}

// DefaultResponse is the acknowledgment sent when a source has no override.
func DefaultResponse() Ack {
	return Ack{Code: http.StatusOK, Message: "ok"}
}

func rejection(status Status, code int, msg string) Response {
	return Response{
		Status: status,
		Code:   code,
		Body:   ErrorResponse{Error: msg},
	}
}
