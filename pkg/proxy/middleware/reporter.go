package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/relay/pkg/audit"
	"mercator-hq/relay/pkg/proxy"
	"mercator-hq/relay/pkg/proxy/types"
	"mercator-hq/relay/pkg/replay"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/telemetry/metrics"
)

// Reporter writes rejections and reports them to logs, metrics and audit.
// A nil *Reporter still writes the error body.
type Reporter struct {
	// Hop names the service ("gateway" or "backend").
	Hop string

	Metrics *metrics.Collector
	Audit   *audit.Recorder
}

// Reject classifies err, writes the uniform error body and records the
// outcome. It returns the classified error.
func (rp *Reporter) Reject(w http.ResponseWriter, r *http.Request, err error) *proxy.Error {
	ctx := r.Context()
	e := proxy.WriteError(w, GetRequestID(ctx), err)

	level := slog.LevelInfo
	if e.Class == proxy.ClassInternal || e.Class == proxy.ClassUpstream {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "request rejected",
		"class", e.Class,
		"error_code", e.Code,
		"status", e.Status,
		"detail", e.Detail,
		"error", e.Err,
	)

	if rp == nil {
		return e
	}

	rp.Metrics.RecordRejection(rp.Hop, e.Code)
	rp.Record(r, audit.Event{
		Kind:   KindFor(e),
		Code:   e.Code,
		Detail: e.Detail,
		Status: e.Status,
	})
	return e
}

// Record fills request-scoped fields of ev and hands it to the audit
// recorder. It never blocks.
func (rp *Reporter) Record(r *http.Request, ev audit.Event) {
	if rp == nil || rp.Audit == nil {
		return
	}
	ctx := r.Context()
	ev.Hop = rp.Hop
	ev.RequestID = GetRequestID(ctx)
	if ev.Identity == "" {
		ev.Identity = logging.GetIdentity(ctx)
	}
	if ev.Duration == 0 {
		if start := GetStartTime(ctx); !start.IsZero() {
			ev.Duration = time.Since(start)
		}
	}
	_ = rp.Audit.Record(ev)
}

// KindFor maps a classified error to its audit kind.
func KindFor(e *proxy.Error) audit.Kind {
	switch e.Class {
	case proxy.ClassAuth:
		switch {
		case e.Code == types.CodeOriginNotAllowed:
			return audit.KindOriginRejected
		case e.Detail == replay.ReasonReplayDetected || e.Detail == replay.ReasonMissingNonce:
			return audit.KindReplayRejected
		default:
			return audit.KindAuthFailure
		}
	case proxy.ClassValidation:
		return audit.KindInvalidRequest
	case proxy.ClassRateLimit:
		return audit.KindRateLimited
	case proxy.ClassModeration:
		return audit.KindModerationBlock
	case proxy.ClassUpstream:
		return audit.KindUpstreamFailure
	default:
		return audit.KindInternalError
	}
}

// Collector returns the metrics collector, nil when rp is nil.
func (rp *Reporter) Collector() *metrics.Collector {
	if rp == nil {
		return nil
	}
	return rp.Metrics
}
