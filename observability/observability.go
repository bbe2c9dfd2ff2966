package observability

import (
	"context"
	"time"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type field struct {
	key string
	val interface{}
}

func (f field) Key() string        { return f.key }
func (f field) Value() interface{} { return f.val }

func String(key, value string) Field                 { return field{key, value} }
func Int(key string, value int) Field                { return field{key, value} }
func Int64(key string, value int64) Field            { return field{key, value} }
func Bool(key string, value bool) Field              { return field{key, value} }
func Float64(key string, value float64) Field        { return field{key, value} }
func Duration(key string, value time.Duration) Field { return field{key, value} }
func Strings(key string, value []string) Field       { return field{key, append([]string(nil), value...)} }
func Error(key string, err error) Field              { return field{key, err} }

// Err is shorthand for Error("err", err).
func Err(err error) Field { return Error("err", err) }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// OrNop returns l, or a NopLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}

// Tracker records product analytics events. Only the no-op implementation
// ships; callers keep their Track calls so an implementation can be injected.
type Tracker interface {
	Track(event string, fields ...Field)
}

type NopTracker struct{}

func (NopTracker) Track(string, ...Field) {}

// Tracer provides tracing hooks around pipeline steps.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents a tracing span.
type Span interface {
	SetTag(key string, value interface{})
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// NopTracer returns a tracer that does nothing.
func NopTracer() Tracer { return nopTracer{} }

type nopSpan struct{}

func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
func (nopSpan) Finish()                    {}

// Analytics events emitted by the pipeline.
const (
	EventPageCreated   = "scan.page.created"
	EventPageDeleted   = "scan.page.deleted"
	EventFilterApplied = "scan.filter.applied"
	EventPagesSwapped  = "scan.pages.swapped"
	EventExportStarted = "scan.export.started"
	EventExportDone    = "scan.export.finished"
	EventExportFailed  = "scan.export.failed"
	EventOCRSkipped    = "scan.export.ocr_skipped"
)

// Span names.
const (
	SpanDerive    = "scan.derive"
	SpanExportPDF = "scan.export.pdf"
	SpanExportJPG = "scan.export.images"
	SpanRecognize = "scan.ocr.recognize"
	SpanSnapshot  = "scan.snapshot"
)
