package query

import (
	"sort"
	"sync"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/retrieval"
)

type TraceEventKind string

const (
	TraceEventConsideredEntityIDs    TraceEventKind = "considered_entity_ids"
	TraceEventReturnedEntityIDs      TraceEventKind = "returned_entity_ids"
	TraceEventQueriedRelationshipIDs TraceEventKind = "queried_relationship_ids"
	TraceEventModalityDegraded       TraceEventKind = "modality_degraded"
	TraceEventGraphTruncated         TraceEventKind = "graph_truncated"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Modality        retrieval.Modality
	EntityIDs       []string
	RelationshipIDs []string

	DurationMs int64
	Error      string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

// LogTracer writes trace events to the debug log.
type LogTracer struct{}

func (LogTracer) Record(event TraceEvent) {
	logger.Debug("[Query][Trace] "+string(event.Kind),
		"modality", event.Modality,
		"entities", len(event.EntityIDs),
		"relationships", len(event.RelationshipIDs),
		"duration_ms", event.DurationMs,
		"err", event.Error,
	)
}

func RecordConsideredEntityIDs(t Tracer, m retrieval.Modality, durationMs int64, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredEntityIDs, Modality: m, DurationMs: durationMs, EntityIDs: ids})
}

func RecordReturnedEntityIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventReturnedEntityIDs, EntityIDs: ids})
}

func RecordQueriedRelationshipIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedRelationshipIDs, RelationshipIDs: ids})
}

func RecordModalityDegraded(t Tracer, m retrieval.Modality, err error) {
	if t == nil {
		return
	}
	event := TraceEvent{Kind: TraceEventModalityDegraded, Modality: m}
	if err != nil {
		event.Error = err.Error()
	}
	t.Record(event)
}

func RecordGraphTruncated(t Tracer, err error) {
	if t == nil {
		return
	}
	event := TraceEvent{Kind: TraceEventGraphTruncated, Modality: retrieval.ModalityGraph}
	if err != nil {
		event.Error = err.Error()
	}
	t.Record(event)
}

// QueryTrace collects which entities each modality considered, what was
// returned and which modalities degraded during a query run.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	consideredEntityIDs    map[retrieval.Modality]map[string]struct{}
	returnedEntityIDs      map[string]struct{}
	queriedRelationshipIDs map[string]struct{}
	degraded               map[retrieval.Modality]string
	graphTruncated         bool
}

type QueryTraceSnapshot struct {
	ConsideredEntityIDs    map[retrieval.Modality][]string
	ReturnedEntityIDs      []string
	QueriedRelationshipIDs []string
	Degraded               map[retrieval.Modality]string
	GraphTruncated         bool
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		consideredEntityIDs:    make(map[retrieval.Modality]map[string]struct{}),
		returnedEntityIDs:      make(map[string]struct{}),
		queriedRelationshipIDs: make(map[string]struct{}),
		degraded:               make(map[retrieval.Modality]string),
	}
}

func addIDs(set map[string]struct{}, ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventConsideredEntityIDs:
		set, ok := t.consideredEntityIDs[event.Modality]
		if !ok {
			set = make(map[string]struct{})
			t.consideredEntityIDs[event.Modality] = set
		}
		addIDs(set, event.EntityIDs)
	case TraceEventReturnedEntityIDs:
		addIDs(t.returnedEntityIDs, event.EntityIDs)
	case TraceEventQueriedRelationshipIDs:
		addIDs(t.queriedRelationshipIDs, event.RelationshipIDs)
	case TraceEventModalityDegraded:
		t.degraded[event.Modality] = event.Error
	case TraceEventGraphTruncated:
		t.graphTruncated = true
	default:
		return
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := QueryTraceSnapshot{
		ConsideredEntityIDs:    make(map[retrieval.Modality][]string, len(t.consideredEntityIDs)),
		ReturnedEntityIDs:      sortedKeys(t.returnedEntityIDs),
		QueriedRelationshipIDs: sortedKeys(t.queriedRelationshipIDs),
		Degraded:               make(map[retrieval.Modality]string, len(t.degraded)),
		GraphTruncated:         t.graphTruncated,
	}
	for m, set := range t.consideredEntityIDs {
		s.ConsideredEntityIDs[m] = sortedKeys(set)
	}
	for m, reason := range t.degraded {
		s.Degraded[m] = reason
	}

	return s
}
