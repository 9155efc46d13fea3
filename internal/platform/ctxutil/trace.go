package ctxutil

import "context"

type traceDataKey struct{}

// TraceData follows a piece of work across process boundaries: RequestID
// and TraceID originate at the HTTP edge, and JobID is attached when the
// work is a queued stage run, so a driver's log line can name both the job
// it is executing and the request that enqueued it.
type TraceData struct {
	TraceID   string
	RequestID string
	JobID     string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}

// LogFields flattens the trace data into key/value pairs ready to append
// to a logger call, skipping empty ids.
func (td *TraceData) LogFields() []interface{} {
	if td == nil {
		return nil
	}
	var fields []interface{}
	if td.TraceID != "" {
		fields = append(fields, "trace_id", td.TraceID)
	}
	if td.RequestID != "" {
		fields = append(fields, "request_id", td.RequestID)
	}
	if td.JobID != "" {
		fields = append(fields, "job_id", td.JobID)
	}
	return fields
}
