// Package mcp provides the MCP (Model Context Protocol) server exposing the
// content graph and the validator engine as tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Benny93/contentgraph/internal/content"
	"github.com/Benny93/contentgraph/internal/graph"
	"github.com/Benny93/contentgraph/internal/ingestion"
	"github.com/Benny93/contentgraph/internal/storage"
	"github.com/Benny93/contentgraph/internal/validate"
)

// Version is reported to clients during initialization.
var Version = "0.1.0"

// Server represents the MCP server.
type Server struct {
	root    string
	builder *ingestion.Builder
	store   storage.Backend
	logger  *zap.Logger

	// mu serializes reparses against queries.
	mu     sync.RWMutex
	server *mcp.Server
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	// ReadOnly is false for tools that change the graph or the store.
	ReadOnly bool
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a server over the graph held by b. root is the
// repository directory and store, when not nil, receives reparsed records.
func NewServer(root string, b *ingestion.Builder, store storage.Backend, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		root:    root,
		builder: b,
		store:   store,
		logger:  logger,
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "contentgraph",
		Version: Version,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

// Run serves the protocol on stdin and stdout until the client disconnects
// or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	cmds := tools.Commands()
	out := make([]Tool, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, Tool{
			Name:        c.Name,
			Description: c.Description,
			InputSchema: c.Schema(),
			ReadOnly:    !c.Execution,
		})
	}
	return out
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if _, ok := tools.Lookup(name); !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return tools.Dispatch(ctx, s, name, args)
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "contentgraph://overview",
			Name:        "Content Graph Overview",
			Description: "Node and relationship counts of the content graph",
			MimeType:    "text/markdown",
		},
		{
			URI:         "contentgraph://schema",
			Name:        "Graph Schema",
			Description: "Content types and relationship kinds of the graph",
			MimeType:    "text/markdown",
		},
		{
			URI:         "contentgraph://validators",
			Name:        "Validators",
			Description: "Error codes of the registered validators",
			MimeType:    "text/markdown",
		},
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "contentgraph://overview":
		return s.overview(), nil
	case "contentgraph://schema":
		return schemaDoc(), nil
	case "contentgraph://validators":
		return validatorsDoc(), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

func (s *Server) graph() *graph.ContentGraph {
	return s.builder.Graph()
}

// Resource Handlers

func (s *Server) overview() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := s.graph()
	stats := g.Stats()
	var sb strings.Builder
	sb.WriteString("# Content Graph Overview\n\n")
	sb.WriteString(fmt.Sprintf("**Nodes:** %d\n", stats["nodes"]))
	sb.WriteString(fmt.Sprintf("**Relationships:** %d\n", stats["relationships"]))
	sb.WriteString(fmt.Sprintf("**Phantoms:** %d\n", stats["phantoms"]))
	sb.WriteString(fmt.Sprintf("**Duplicate ids:** %d\n", stats["duplicates"]))
	if failures := len(s.builder.Failures()); failures > 0 {
		sb.WriteString(fmt.Sprintf("**Unparsed files:** %d\n", failures))
	}
	sb.WriteString("\n## Items by type\n\n")
	for _, t := range content.AllTypes {
		if n := g.CountNodesByType(t); n > 0 {
			sb.WriteString(fmt.Sprintf("- %s: %d\n", t, n))
		}
	}
	return sb.String()
}

func schemaDoc() string {
	var sb strings.Builder
	sb.WriteString("# Content Graph Schema\n\n")
	sb.WriteString("Node ids have the form `<type>:<object id>`.\n\n")
	sb.WriteString("## Content Types\n\n")
	for _, t := range content.AllTypes {
		sb.WriteString(fmt.Sprintf("- `%s` (%s)\n", t, t.Label()))
	}
	sb.WriteString("\n## Relationship Types\n\n")
	sb.WriteString("| Type | Source → Target |\n")
	sb.WriteString("|------|-----------------|\n")
	sb.WriteString("| `USES` | item → item it depends on at runtime |\n")
	sb.WriteString("| `IMPORTS` | script → api module |\n")
	sb.WriteString("| `TESTED_BY` | item → test playbook |\n")
	sb.WriteString("| `IN_PACK` | item → pack metadata |\n")
	sb.WriteString("| `HAS_COMMAND` | integration → command |\n")
	sb.WriteString("| `CONF_JSON_USES` | test configuration → item |\n")
	sb.WriteString("| `CONF_JSON_SKIPPED` | test configuration → skipped item |\n")
	return sb.String()
}

func validatorsDoc() string {
	vs := validate.Validators()
	sort.Slice(vs, func(i, j int) bool { return vs[i].Code < vs[j].Code })
	var sb strings.Builder
	sb.WriteString("# Validators\n\n")
	sb.WriteString("| Code | Description | Fixable |\n")
	sb.WriteString("|------|-------------|---------|\n")
	for _, v := range vs {
		fixable := "no"
		if v.AutoFixable() {
			fixable = "yes"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n", v.Code, v.Description, fixable))
	}
	return sb.String()
}

// registerTools registers the tool table with the MCP server.
func (s *Server) registerTools() {
	for _, t := range s.ListTools() {
		name := t.Name
		s.server.AddTool(&mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: t.ReadOnly},
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return nil, fmt.Errorf("decoding arguments: %w", err)
				}
			}
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				s.logger.Debug("tool failed", zap.String("tool", name), zap.Error(err))
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
		})
	}
}

// registerResources registers resources with the MCP server.
func (s *Server) registerResources() {
	for _, r := range s.ListResources() {
		mime := r.MimeType
		s.server.AddResource(&mcp.Resource{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MimeType,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, req.Params.URI)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
				{URI: req.Params.URI, MIMEType: mime, Text: text},
			}}, nil
		})
	}
}
