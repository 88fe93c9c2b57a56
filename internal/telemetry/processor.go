// Package telemetry attributes OpenTelemetry spans emitted during agent
// work to the harness task that caused them. Host processes tag their spans
// with the external task id; the processor resolves it to the internal id
// through the correlation bridge and persists the span.
package telemetry

import (
	"context"
	"log"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/hochfrequenz/claude-eval-harness/internal/bridge"
)

// ExternalIDKey is the span attribute carrying the external task id
const ExternalIDKey = "task.external_id"

// SpanStore persists attributed spans. *evalstore.Store satisfies it.
type SpanStore interface {
	InsertSpan(taskID int64, name string, startedAt, endedAt time.Time, attributes map[string]string) error
}

// TaskSpanProcessor resolves span attribution on end and persists the
// result. Spans without a resolvable external id are dropped; the bridge is
// populated before any host learns its id, so drops indicate a host bug.
type TaskSpanProcessor struct {
	bridge *bridge.Bridge
	store  SpanStore
}

var _ sdktrace.SpanProcessor = (*TaskSpanProcessor)(nil)

// NewTaskSpanProcessor creates a processor backed by the given bridge and store
func NewTaskSpanProcessor(br *bridge.Bridge, store SpanStore) *TaskSpanProcessor {
	return &TaskSpanProcessor{bridge: br, store: store}
}

// OnStart is a no-op; attribution happens once the span is complete
func (p *TaskSpanProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {}

// OnEnd resolves the span's external id and persists the span
func (p *TaskSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	var externalID string
	attrs := make(map[string]string, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
		if string(kv.Key) == ExternalIDKey {
			externalID = kv.Value.AsString()
		}
	}
	if externalID == "" {
		return
	}

	taskID, ok := p.bridge.Resolve(externalID)
	if !ok {
		log.Printf("[telemetry] dropping span %q: unknown external id %s", s.Name(), externalID)
		return
	}

	if err := p.store.InsertSpan(taskID, s.Name(), s.StartTime(), s.EndTime(), attrs); err != nil {
		log.Printf("[telemetry] persisting span %q for task %d: %v", s.Name(), taskID, err)
	}
}

// Shutdown implements sdktrace.SpanProcessor; the store is owned elsewhere
func (p *TaskSpanProcessor) Shutdown(ctx context.Context) error {
	return nil
}

// ForceFlush implements sdktrace.SpanProcessor; OnEnd writes synchronously
func (p *TaskSpanProcessor) ForceFlush(ctx context.Context) error {
	return nil
}

// NewTracerProvider builds a tracer provider that routes every finished
// span through the processor
func NewTracerProvider(p *TaskSpanProcessor) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))
}
