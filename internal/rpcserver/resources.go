package rpcserver

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cascadehq/cascade/internal/radar"
	"github.com/cascadehq/cascade/internal/store"
)

const (
	resourceRadarQuery   = "cascade://radar"
	resourceRunnersList  = "cascade://runners"
	resourceJobsQueued   = "cascade://jobs/queued"
	resourceRecentEvents = "cascade://events/recent"
)

// registerResources wires the read-only MCP resource surface alongside the
// tool surface, grounded on the teacher's AddResource pattern. Unlike the
// teacher's resources these all take a required workspace query parameter
// since every Cascade table is workspace-scoped.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         resourceRadarQuery,
		Name:        "Radar",
		Description: "Attention-ranked jobs/runners view for a workspace (?workspace=...)",
		MIMEType:    "application/json",
	}, s.handleRadarResource)

	s.server.AddResource(&mcp.Resource{
		URI:         resourceRunnersList,
		Name:        "Runners",
		Description: "Active runner leases for a workspace (?workspace=...)",
		MIMEType:    "application/json",
	}, s.handleRunnersResource)

	s.server.AddResource(&mcp.Resource{
		URI:         resourceJobsQueued,
		Name:        "Queued Jobs",
		Description: "QUEUED jobs for a workspace (?workspace=...)",
		MIMEType:    "application/json",
	}, s.handleJobsQueuedResource)

	s.server.AddResource(&mcp.Resource{
		URI:         resourceRecentEvents,
		Name:        "Recent Lifecycle Events",
		Description: "Buffered tail of recent job/runner/cascade lifecycle notifications (?workspace=...)",
		MIMEType:    "application/json",
	}, s.handleRecentEventsResource)
}

func resourceWorkspace(req *mcp.ReadResourceRequest) string {
	if req == nil || req.Params == nil || req.Params.URI == "" {
		return ""
	}
	u, err := url.Parse(req.Params.URI)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Query().Get("workspace"))
}

func resourceResult(uri string, payload any) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

func (s *Server) handleRadarResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	workspace := resourceWorkspace(req)
	rows, hasMore, err := s.radar.Query(radar.Filter{Workspace: workspace}, 0)
	if err != nil {
		return nil, err
	}
	return resourceResult(req.Params.URI, map[string]any{"rows": rows, "has_more": hasMore})
}

func (s *Server) handleRunnersResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	workspace := resourceWorkspace(req)
	leases, hasMore, err := s.runners.ListActive(workspace, 0)
	if err != nil {
		return nil, err
	}
	return resourceResult(req.Params.URI, map[string]any{"runners": leases, "has_more": hasMore})
}

func (s *Server) handleJobsQueuedResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	workspace := resourceWorkspace(req)
	jobs, hasMore, err := s.store.List(store.ListFilter{Workspace: workspace, Status: store.StatusQueued}, 0)
	if err != nil {
		return nil, err
	}
	return resourceResult(req.Params.URI, map[string]any{"jobs": jobs, "has_more": hasMore})
}

func (s *Server) handleRecentEventsResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	workspace := resourceWorkspace(req)
	return resourceResult(req.Params.URI, map[string]any{"events": s.recentEvents(workspace)})
}
