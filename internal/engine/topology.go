package engine

import (
	"sort"

	"github.com/ollystack/correlation-engine/internal/models"
)

// ServiceEdge is one directed call edge between two services, aggregated
// over every parent/child span pair that crosses the boundary.
type ServiceEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Calls  int    `json:"calls"`
	Errors int    `json:"errors"`
}

// Topology is the service call graph derived from one request's spans.
// Cycles are legitimate (fan-out/fan-in) and are kept as-is.
type Topology struct {
	Services []string      `json:"services"`
	Edges    []ServiceEdge `json:"edges"`
}

// ExtractTopology builds the directed service graph: an edge A->B exists
// whenever a span owned by service B has a parent span owned by service A.
// Self-loops are suppressed; a visited-edge set keeps traversal bounded.
func ExtractTopology(spans []models.Span) Topology {
	byID := make(map[string]models.Span, len(spans))
	serviceSet := make(map[string]struct{})
	for _, span := range spans {
		byID[span.SpanID] = span
		if span.Service != "" {
			serviceSet[span.Service] = struct{}{}
		}
	}

	type edgeKey struct{ source, target string }
	edges := make(map[edgeKey]*ServiceEdge)
	for _, span := range spans {
		if span.ParentSpanID == "" {
			continue
		}
		parent, ok := byID[span.ParentSpanID]
		if !ok || parent.Service == "" || span.Service == "" {
			continue
		}
		if parent.Service == span.Service {
			continue
		}
		key := edgeKey{source: parent.Service, target: span.Service}
		edge, seen := edges[key]
		if !seen {
			edge = &ServiceEdge{Source: key.source, Target: key.target}
			edges[key] = edge
		}
		edge.Calls++
		if span.IsError() {
			edge.Errors++
		}
	}

	topo := Topology{
		Services: make([]string, 0, len(serviceSet)),
		Edges:    make([]ServiceEdge, 0, len(edges)),
	}
	for svc := range serviceSet {
		topo.Services = append(topo.Services, svc)
	}
	sort.Strings(topo.Services)
	for _, edge := range edges {
		topo.Edges = append(topo.Edges, *edge)
	}
	sort.Slice(topo.Edges, func(i, j int) bool {
		if topo.Edges[i].Source != topo.Edges[j].Source {
			return topo.Edges[i].Source < topo.Edges[j].Source
		}
		return topo.Edges[i].Target < topo.Edges[j].Target
	})
	return topo
}

// Upstreams returns the services calling into the given service.
func (t Topology) Upstreams(service string) []string {
	var upstream []string
	for _, edge := range t.Edges {
		if edge.Target == service {
			upstream = append(upstream, edge.Source)
		}
	}
	return upstream
}

// Downstreams returns the services the given service calls into.
func (t Topology) Downstreams(service string) []string {
	var downstream []string
	for _, edge := range t.Edges {
		if edge.Source == service {
			downstream = append(downstream, edge.Target)
		}
	}
	return downstream
}
