package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/chatflow"
	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const activeFlowURI = "chatflow://flows/active"

// Engine is the part of the chatflow engine operators drive through MCP.
type Engine interface {
	HandleMessage(ctx context.Context, ev domain.InboundEvent) (*chatflow.Result, error)
	ListFlows(ctx context.Context) ([]domain.FlowSummary, error)
	ActivateFlow(ctx context.Context, flowID string) (*domain.Flow, error)
	GetActiveFlow(ctx context.Context) (*domain.Flow, error)
	GetSession(ctx context.Context, chatID string) (*domain.Session, error)
	ResetSession(ctx context.Context, chatID string) error
}

// SimulateResponse is the outcome of a simulated inbound message.
type SimulateResponse struct {
	Actions  []domain.Action `json:"actions" jsonschema_description:"Actions the engine would send back"`
	Matched  bool            `json:"matched" jsonschema_description:"True when the text hit a trigger or a valid option"`
	Fallback bool            `json:"fallback" jsonschema_description:"True when the text was routed to the AI responder"`
	Session  *domain.Session `json:"session,omitempty" jsonschema_description:"The chat session after the message"`
}

// FlowsResponse lists the stored flows.
type FlowsResponse struct {
	Flows []domain.FlowSummary `json:"flows" jsonschema_description:"Stored flows"`
}

// StatusResponse acknowledges a mutating tool.
type StatusResponse struct {
	Status string `json:"status"`
}

// Server exposes operator tools over the Model Context Protocol.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		engine:    engine,
		logger:    logger,
		mcpServer: server.NewMCPServer("chatflow-mcp", strings.TrimSpace(chatflow.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the MCP SSE transport on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_flows",
		mcp.WithDescription("List the stored flows and which one is active."),
		mcp.WithOutputSchema[FlowsResponse](),
	), mcp.NewStructuredToolHandler(s.handleListFlows))

	s.mcpServer.AddTool(mcp.NewTool("get_active_flow",
		mcp.WithDescription("Get the document of the flow currently serving traffic."),
	), mcp.NewStructuredToolHandler(s.handleGetActiveFlow))

	s.mcpServer.AddTool(mcp.NewTool("activate_flow",
		mcp.WithDescription("Compile a stored flow and make it the only active one."),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("ID of the flow to activate")),
	), mcp.NewStructuredToolHandler(s.handleActivateFlow))

	s.mcpServer.AddTool(mcp.NewTool("simulate_message",
		mcp.WithDescription("Process an inbound chat message and return the actions the engine produces."),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
		mcp.WithOutputSchema[SimulateResponse](),
	), mcp.NewStructuredToolHandler(s.handleSimulateMessage))

	s.mcpServer.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Inspect the conversation state of a chat."),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
	), mcp.NewStructuredToolHandler(s.handleGetSession))

	s.mcpServer.AddTool(mcp.NewTool("reset_session",
		mcp.WithDescription("Drop the conversation state of a chat."),
		mcp.WithString("chat_id", mcp.Required(), mcp.Description("Chat identifier")),
	), mcp.NewStructuredToolHandler(s.handleResetSession))
}

func requireString(args map[string]interface{}, key string) (string, error) {
	v, _ := args[key].(string)
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func (s *Server) handleListFlows(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (FlowsResponse, error) {
	flows, err := s.engine.ListFlows(ctx)
	if err != nil {
		return FlowsResponse{}, fmt.Errorf("list flows failed: %w", err)
	}
	if flows == nil {
		flows = []domain.FlowSummary{}
	}
	return FlowsResponse{Flows: flows}, nil
}

func (s *Server) handleGetActiveFlow(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (*domain.Flow, error) {
	return s.engine.GetActiveFlow(ctx)
}

func (s *Server) handleActivateFlow(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (*domain.Flow, error) {
	flowID, err := requireString(args, "flow_id")
	if err != nil {
		return nil, err
	}
	flow, err := s.engine.ActivateFlow(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("activate failed: %w", err)
	}
	s.logger.Info("MCP: Flow activated", "flow_id", flowID)
	return flow, nil
}

func (s *Server) handleSimulateMessage(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SimulateResponse, error) {
	chatID, err := requireString(args, "chat_id")
	if err != nil {
		return SimulateResponse{}, err
	}
	text, _ := args["text"].(string)

	res, err := s.engine.HandleMessage(ctx, domain.InboundEvent{ChatID: chatID, Text: text})
	if err != nil && res == nil {
		return SimulateResponse{}, fmt.Errorf("simulate failed: %w", err)
	}
	if err != nil {
		s.logger.Warn("MCP: Message ended with error", "chat_id", chatID, "err", err)
	}

	out := SimulateResponse{
		Actions:  res.Actions,
		Matched:  res.Matched,
		Fallback: res.Fallback,
		Session:  res.Session,
	}
	if out.Actions == nil {
		out.Actions = []domain.Action{}
	}
	return out, nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (*domain.Session, error) {
	chatID, err := requireString(args, "chat_id")
	if err != nil {
		return nil, err
	}
	return s.engine.GetSession(ctx, chatID)
}

func (s *Server) handleResetSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (StatusResponse, error) {
	chatID, err := requireString(args, "chat_id")
	if err != nil {
		return StatusResponse{}, err
	}
	if err := s.engine.ResetSession(ctx, chatID); err != nil {
		return StatusResponse{}, fmt.Errorf("reset failed: %w", err)
	}
	return StatusResponse{Status: "reset"}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(activeFlowURI, "Active Flow Document",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return s.readActiveFlow(ctx)
	})
}

func (s *Server) readActiveFlow(ctx context.Context) ([]mcp.ResourceContents, error) {
	text := "null"
	flow, err := s.engine.GetActiveFlow(ctx)
	switch {
	case errors.Is(err, domain.ErrNoActiveFlow):
	case err != nil:
		return nil, fmt.Errorf("failed to read active flow: %w", err)
	default:
		raw, err := json.Marshal(flow)
		if err != nil {
			return nil, err
		}
		text = string(raw)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      activeFlowURI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
