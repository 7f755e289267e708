// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes preamble tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/preambled/internal/models"
)

// FormatURI identifies the preamble format resource.
const FormatURI = "preambled://preamble-format"

// Engine is the subset of the preamble engine exposed as tools.
type Engine interface {
	Serialize() models.Settings
	Register(ctx context.Context, path string) error
	Unregister(ctx context.Context, path string) error
	Bind(ctx context.Context, folder, preamblePath string) error
	Unbind(ctx context.Context, folder string) error
	Preambles() []models.Preamble
	Resolve(docPath, override string) (models.Preamble, bool)
}

// Server wraps the MCP server with preamble tools.
type Server struct {
	mcp    *server.MCPServer
	engine Engine
}

// New creates a new MCP server with all preamble tools registered.
func New(engine Engine) *Server {
	s := &Server{engine: engine}

	s.mcp = server.NewMCPServer(
		"preambled",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("resolve_preamble",
		mcp.WithDescription("Resolve which preamble applies to a document and return its content."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault path of the document (e.g. notes/limits.md)")),
		mcp.WithString("override", mcp.Description("Optional frontmatter-style override, e.g. [[tex/macros]]")),
	), s.resolvePreamble)

	s.mcp.AddTool(mcp.NewTool("list_preambles",
		mcp.WithDescription("List registered preambles and folder bindings."),
	), s.listPreambles)

	s.mcp.AddTool(mcp.NewTool("register_preamble",
		mcp.WithDescription("Register a vault file as a preamble. "+
			"Read the format first via get_preamble_format or the "+FormatURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault path of the preamble file")),
	), s.registerPreamble)

	s.mcp.AddTool(mcp.NewTool("unregister_preamble",
		mcp.WithDescription("Remove a preamble registration. Bindings to it are kept and resolve to nothing."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault path of the preamble file")),
	), s.unregisterPreamble)

	s.mcp.AddTool(mcp.NewTool("bind_folder",
		mcp.WithDescription("Make documents under a folder use a preamble by default."),
		mcp.WithString("folder", mcp.Description("Folder path; empty or / for the vault root")),
		mcp.WithString("preamble", mcp.Required(), mcp.Description("Vault path of a registered preamble")),
	), s.bindFolder)

	s.mcp.AddTool(mcp.NewTool("unbind_folder",
		mcp.WithDescription("Remove the preamble binding of a folder."),
		mcp.WithString("folder", mcp.Description("Folder path; empty or / for the vault root")),
	), s.unbindFolder)

	s.mcp.AddTool(mcp.NewTool("get_preamble_format",
		mcp.WithDescription("Returns how preamble files are written and how documents select one."),
	), s.getPreambleFormat)

	s.mcp.AddResource(
		mcp.NewResource(FormatURI, "Preamble Format",
			mcp.WithResourceDescription("How preamble files are written and resolved."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type resolveResult struct {
	Document string `json:"document"`
	Found    bool   `json:"found"`
	Preamble string `json:"preamble,omitempty"`
	Loaded   bool   `json:"loaded,omitempty"`
	Content  string `json:"content,omitempty"`
}

func (s *Server) resolvePreamble(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	override := req.GetString("override", "")

	p, found := s.engine.Resolve(path, override)
	res := resolveResult{Document: path, Found: found}
	if found {
		res.Preamble = p.Path
		res.Loaded = p.Loaded
		res.Content = p.Content
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

type listResult struct {
	Preambles       []models.Preamble      `json:"preambles"`
	FolderPreambles []models.FolderBinding `json:"folderPreambles"`
}

func (s *Server) listPreambles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res := listResult{
		Preambles:       s.engine.Preambles(),
		FolderPreambles: s.engine.Serialize().FolderPreambles,
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) registerPreamble(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.engine.Register(ctx, path); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("registered: %s", path)), nil
}

func (s *Server) unregisterPreamble(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.engine.Unregister(ctx, path); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("unregistered: %s", path)), nil
}

func (s *Server) bindFolder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString("preamble")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	folder := req.GetString("folder", "")
	if err := s.engine.Bind(ctx, folder, target); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("bound: %s -> %s", displayFolder(folder), target)), nil
}

func (s *Server) unbindFolder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := req.GetString("folder", "")
	if err := s.engine.Unbind(ctx, folder); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("unbound: %s", displayFolder(folder))), nil
}

func (s *Server) getPreambleFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PreambleFormat), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatURI,
			MIMEType: "text/markdown",
			Text:     PreambleFormat,
		},
	}, nil
}

func displayFolder(folder string) string {
	if folder == "" {
		return "/"
	}
	return folder
}
