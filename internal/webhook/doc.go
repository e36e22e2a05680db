// Package webhook implements shared-secret webhook endpoints that turn inbound
// JSON payloads into normalized events.
//
// Every endpoint is bound to one source. A source config carries the
// per-source behavior as function values: a payload validator, a transformer
// producing ordered events, and an optional response builder.
//
// # Security Model
//
// - The shared secret is read from a single header (x-ac-webhook-secret by default)
// - Comparison is exact and constant-time via crypto/subtle
// - An empty configured secret rejects every request
// - A repeated secret header is rejected
// - The secret header never reaches transformers, events or logs
// - Body size limits enforced (413 when exceeded)
//
// # Configuration
//
// Endpoints are configured in config.yaml:
//
//	server:
//	  listen: "127.0.0.1:8081"
//	endpoints:
//	  - path: /adcalls/before-call
//	    source: AdCallsHookBeforeCall
//	    secret_ref: adcalls_secret  # References credentials
//	    include_raw_body: true
//	    max_body_size: 1MB
//
// # Request Flow
//
//  1. HTTP POST arrives at a configured path
//  2. Body size checked
//  3. Secret verified (401 {"error":"Invalid secret"} on mismatch)
//  4. Payload validated (400 {"error":"Invalid payload"} when rejected)
//  5. Source transformer produces events
//  6. Events enriched with _rawBody and _headers when enabled, paired 0..n-1
//  7. Events handed to the EventSink
//  8. 200 {"code":200,"message":"ok"} returned, or the source's own response
//
// # Error Responses
//
// - 400 Bad Request: payload rejected by the source validator
// - 401 Unauthorized: missing, repeated or wrong secret
// - 404 Not Found: unknown webhook path
// - 413 Payload Too Large: body exceeds max_body_size
// - 500 Internal Server Error: source not registered, transform or delivery failed
//
// # Example Usage
//
//	reg := webhook.NewRegistry()
//	_ = reg.Register(webhook.SourceConfig{
//		Name:      "AdCallsHook",
//		Validate:  validate,
//		Transform: transform,
//	})
//
//	cfg := webhook.Config{
//		Listen: "127.0.0.1:8081",
//		Endpoints: []webhook.EndpointConfig{
//			{Path: "/adcalls", Source: "AdCallsHook", Secret: os.Getenv("ADCALLS_SECRET")},
//		},
//	}
//
//	server := webhook.New(cfg, webhook.NewDispatcher(reg, logger), hub, logger)
//	if err := server.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package webhook
