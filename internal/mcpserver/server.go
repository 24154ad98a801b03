// Package mcpserver is the fleet's single external MCP front door. It
// re-publishes every tool known to the providers and groups it is handed
// as one flat MCP tool catalog, namespaced by owner ID, and routes every
// call back through the same middleware pipeline an internal
// InvokeToolCommand would use. Nothing here talks to a provider directly;
// that stays the command bus's job.
package mcpserver

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/group"
	"fleetmcp/internal/middleware"
	"fleetmcp/internal/provider"
	"fleetmcp/internal/repository"
	"fleetmcp/pkg/logging"
	pkgstrings "fleetmcp/pkg/strings"
)

// Separator joins an owner ID (provider or group) to a tool name in the
// published catalog, e.g. "math.add" or "math-pool.add".
const Separator = "."

// Server wraps an mcp-go MCPServer and keeps its published tool set in
// sync with the repository and group registry.
type Server struct {
	mu       sync.Mutex
	inner    *mcpserver.MCPServer
	pipeline *middleware.Pipeline
	repo     *repository.Repository
	groups   *group.Registry
	known    map[string]bool // published tool names, for diffing on rebuild
}

// New builds a Server whose catalog reflects repo and groups as of the
// call, and rebuilds automatically whenever a lifecycle or membership
// event that could change it is published.
func New(pipeline *middleware.Pipeline, repo *repository.Repository, groups *group.Registry, eventBus *bus.EventBus) *Server {
	inner := mcpserver.NewMCPServer("fleetmcpd", "1.0.0", mcpserver.WithToolCapabilities(true))
	s := &Server{inner: inner, pipeline: pipeline, repo: repo, groups: groups, known: make(map[string]bool)}
	s.Rebuild()

	eventBus.SubscribeAll(func(evt bus.Event) {
		switch evt.(type) {
		case bus.ProviderStarted, bus.ProviderStopped, bus.ProviderStateChanged,
			bus.GroupMemberAdded, bus.GroupMemberRemoved:
			s.Rebuild()
		}
	})
	return s
}

// Rebuild discards and re-publishes the whole tool catalog from the
// current repository and group registry contents. Cheap enough (a handful
// of providers per fleet) that incremental patching isn't worth the extra
// bookkeeping.
func (s *Server) Rebuild() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range s.known {
		s.inner.DeleteTools(name)
	}
	s.known = make(map[string]bool)

	var tools []mcpserver.ServerTool
	for _, p := range s.repo.GetAll() {
		for _, t := range p.Tools() {
			tools = append(tools, s.serverTool(p.ID(), t))
		}
	}
	for _, g := range s.groups.GetAll() {
		for _, t := range s.groupTools(g) {
			tools = append(tools, s.serverTool(g.ID(), t))
		}
	}

	for _, t := range tools {
		s.known[t.Tool.Name] = true
		logging.Debug("mcpserver", "publishing %s: %s", t.Tool.Name,
			pkgstrings.TruncateDescription(t.Tool.Description, pkgstrings.DefaultDescriptionMaxLen))
	}
	s.inner.AddTools(tools...)
	logging.Info("mcpserver", "published %d tools across %d providers and %d groups",
		len(tools), len(s.repo.GetAll()), len(s.groups.GetAll()))
}

// groupTools represents a group's catalog as the catalog of the member the
// group's selection strategy picks (SelectMember): groups are load-balanced pools of interchangeable
// providers, so their tool surface is assumed homogeneous across members.
func (s *Server) groupTools(g *group.Group) []provider.ToolSchema {
	member := g.SelectMember()
	if member == nil {
		return nil
	}
	p, err := s.repo.Get(member.ProviderID)
	if err != nil {
		return nil
	}
	return p.Tools()
}

func (s *Server) serverTool(ownerID string, t provider.ToolSchema) mcpserver.ServerTool {
	publishedName := ownerID + Separator + t.Name
	return mcpserver.ServerTool{
		Tool: mcp.Tool{
			Name:        publishedName,
			Description: t.Description,
			InputSchema: toMCPSchema(t.InputSchema),
		},
		Handler: s.handlerFor(ownerID, t.Name),
	}
}

func (s *Server) handlerFor(ownerID, toolName string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]interface{})
		result := s.pipeline.InvokeTool(bus.InvokeToolCommand{
			ProviderID: ownerID,
			ToolName:   toolName,
			Arguments:  args,
		})
		if result.IsError {
			return mcp.NewToolResultError(result.Message), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%v", result.Content)), nil
	}
}

func toMCPSchema(raw map[string]interface{}) mcp.ToolInputSchema {
	schema := mcp.ToolInputSchema{Type: "object", Properties: make(map[string]interface{})}
	if raw == nil {
		return schema
	}
	if props, ok := raw["properties"].(map[string]interface{}); ok {
		schema.Properties = props
	}
	if required, ok := raw["required"].([]interface{}); ok {
		for _, r := range required {
			if name, ok := r.(string); ok {
				schema.Required = append(schema.Required, name)
			}
		}
	} else if required, ok := raw["required"].([]string); ok {
		schema.Required = required
	}
	return schema
}

// ServeStdio blocks, serving the published catalog over newline-delimited
// JSON-RPC on stdin/stdout until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.inner)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
