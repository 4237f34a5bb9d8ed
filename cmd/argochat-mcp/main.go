// argochat-mcp exposes the utterance pipeline as an MCP stdio server, so
// MCP clients can ask questions about the float dataset as a tool call.
// Logs go to stderr; stdout carries the protocol.
package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"argochat/internal/agent"
	"argochat/internal/config"
	"argochat/internal/db"
	"argochat/internal/geo"
	"argochat/internal/history"
	"argochat/internal/llm"
	"argochat/internal/logger"
	"argochat/internal/safety"
	"argochat/internal/shape"
	"argochat/internal/synth"
	"argochat/pkg/geocode"
)

// askResult is the ask_argo tool payload: the envelope plus the session id
// to reuse for follow-up questions.
type askResult struct {
	shape.Envelope
	SessionID string `json:"session_id"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		logger.L.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	var sessionStore history.Store
	sessionStore, err = history.OpenSQLite(cfg.Database.SessionsPath)
	if err != nil {
		logger.L.Warn("session store unavailable, using in-memory sessions", "error", err)
		sessionStore = history.NewMemoryStore()
	}
	defer sessionStore.Close()

	hist := history.NewManager(sessionStore, history.Budgets{
		MaxSessionTokens: cfg.Context.MaxSessionTokens,
		MaxMessageTokens: cfg.Context.MaxMessageTokens,
		MaxTurns:         cfg.Context.MaxTurns,
	}, nil)

	argoStore, err := db.Open(cfg.Database.ArgoPath, time.Duration(cfg.Database.TimeoutSeconds)*time.Second)
	if err != nil {
		logger.L.Error("failed to open measurement database", "path", cfg.Database.ArgoPath, "error", err)
		os.Exit(1)
	}
	defer argoStore.Close()

	geoTimeout := time.Duration(cfg.Geo.TimeoutSeconds) * time.Second
	geocoder := geocode.NewClient(cfg.Geo.GeocodeURL, geoTimeout)
	resolver := geo.NewResolver(geocoder, cfg.Geo.RadiusKm, cfg.Geo.MinConfidence, geoTimeout)

	policy := safety.DefaultPolicy(cfg.Safety.MaxRows)
	oracle := llm.NewClient(cfg.LLM)
	synthesizer := synth.New(oracle, policy, cfg.LLM)
	pipeline := agent.New(hist, resolver, synthesizer, policy, argoStore, *cfg)

	srv := mcpserver.NewMCPServer("argochat", "1.0.0", mcpserver.WithToolCapabilities(false))

	askTool := mcp.NewTool("ask_argo",
		mcp.WithDescription("Ask a natural-language question about ARGO ocean float measurements: "+
			"temperature, salinity, pressure profiles, and float positions."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
		mcp.WithString("session_id",
			mcp.Description("Conversation id; reuse the one returned by a previous call for follow-up questions"),
		),
	)
	srv.AddTool(askTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sessionID := req.GetString("session_id", "")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		env := pipeline.HandleUtterance(ctx, sessionID, question)
		out, err := json.Marshal(askResult{Envelope: env, SessionID: sessionID})
		if err != nil {
			return mcp.NewToolResultError("failed to encode result"), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	})

	schemaTool := mcp.NewTool("get_schema",
		mcp.WithDescription("Get the queryable tables, columns, and functions of the float measurement database."),
	)
	srv.AddTool(schemaTool, func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := json.Marshal(policy)
		if err != nil {
			return mcp.NewToolResultError("failed to encode schema"), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	})

	logger.L.Info("mcp server starting on stdio")
	if err := mcpserver.ServeStdio(srv); err != nil {
		logger.L.Error("mcp server failed", "error", err)
		os.Exit(1)
	}
}
