// Package middleware provides the HTTP middleware shared by the gateway and
// backend hops.
//
// # Middleware Chain
//
// The gateway chain, outermost first:
//
//	RequestID -> Tracing -> Recovery -> Logging -> Metrics -> CORS -> Origin -> handler
//
// The backend chain adds hop authentication in front of the handler:
//
//	RequestID -> Tracing -> Recovery -> Logging -> Metrics -> HopAuth -> handler
//
// # Rejections
//
// Every rejection goes through Reporter.Reject, which writes the uniform
// error body ({error, error_code, request_id}), logs the classified error,
// counts it and records an audit event. A nil *Reporter only writes the body.
//
// # Hop Authentication
//
// HopAuthMiddleware reads the body once, verifies the signature over those
// exact bytes, consumes the nonce in the replay guard and hands the same
// bytes to the next handler. If the replay store is unreachable the request
// is rejected with 503 unless FailOpen is set.
package middleware
