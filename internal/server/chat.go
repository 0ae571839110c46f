package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newsrag/internal/metrics"
	"github.com/mohammad-safakhou/newsrag/models"
	"github.com/mohammad-safakhou/newsrag/provider"
)

// SearchStore is the slice of the vector store the handlers need.
type SearchStore interface {
	Search(ctx context.Context, vector []float32, topK int, threshold float32) ([]models.SearchResult, error)
	Count(ctx context.Context) (uint64, bool)
}

// SessionCache is the slice of the session cache the handlers need.
type SessionCache interface {
	AppendMessage(ctx context.Context, sessionID string, msg models.ChatMessage) error
	History(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
	Clear(ctx context.Context, sessionID string) error
	Info(ctx context.Context, sessionID string) (models.SessionInfo, bool, error)
}

// ChatHandler serves the chat API: session issuing, RAG chat, history.
type ChatHandler struct {
	Provider       provider.Provider
	Store          SearchStore
	Sessions       SessionCache
	TopK           int
	ScoreThreshold float32
	Environment    string

	Logger *log.Logger
}

// Register mounts the handler's routes under g.
func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("/session", h.newSession)
	g.POST("/chat", h.chat)
	g.GET("/history/:sessionId", h.history)
	g.DELETE("/history/:sessionId", h.clearHistory)
	g.GET("/session/:sessionId", h.sessionInfo)
	g.GET("/health", h.health)
}

func (h *ChatHandler) logger() *log.Logger {
	if h.Logger == nil {
		h.Logger = log.New(log.Writer(), "[CHAT] ", log.LstdFlags)
	}
	return h.Logger
}

func (h *ChatHandler) newSession(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"sessionId": uuid.NewString()})
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Response  string   `json:"response"`
	SessionID string   `json:"sessionId"`
	Sources   []string `json:"sources,omitempty"`
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.SessionID == "" || req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sessionId and message are required")
	}

	metrics.ChatRequests.Inc()
	start := time.Now()
	defer func() { metrics.ChatDuration.Observe(time.Since(start).Seconds()) }()
	ctx := c.Request().Context()

	vector, err := h.Provider.Embed(ctx, req.Message)
	if err != nil {
		metrics.ChatFailures.Inc()
		h.logger().Printf("embed query: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process message")
	}

	topK := h.TopK
	if topK <= 0 {
		topK = 5
	}
	results, err := h.Store.Search(ctx, vector, topK, h.ScoreThreshold)
	if err != nil {
		metrics.ChatFailures.Inc()
		h.logger().Printf("search: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process message")
	}

	contextBlock, sources := assembleContext(results)
	answer := h.Provider.Generate(ctx, req.Message, contextBlock)
	if answer == provider.FallbackResponse {
		metrics.GenerationFallbacks.Inc()
	}

	msg := models.ChatMessage{User: req.Message, Bot: answer, Timestamp: time.Now().UTC()}
	if err := h.Sessions.AppendMessage(ctx, req.SessionID, msg); err != nil {
		// History bookkeeping is best effort; the answer still goes out.
		h.logger().Printf("append message for %s: %v", req.SessionID, err)
	}

	return c.JSON(http.StatusOK, chatResponse{
		Response:  answer,
		SessionID: req.SessionID,
		Sources:   sources,
	})
}

// assembleContext joins the retrieved contents with blank lines, in result
// order, and collects the distinct source names.
func assembleContext(results []models.SearchResult) (string, []string) {
	var (
		parts   []string
		sources []string
		seen    = map[string]struct{}{}
	)
	for _, r := range results {
		metrics.RetrievalScore.Observe(float64(r.Score))
		if r.Payload.Content != "" {
			parts = append(parts, r.Payload.Content)
		}
		if r.Payload.Source != "" {
			if _, ok := seen[r.Payload.Source]; !ok {
				seen[r.Payload.Source] = struct{}{}
				sources = append(sources, r.Payload.Source)
			}
		}
	}
	return strings.Join(parts, "\n\n"), sources
}

func (h *ChatHandler) history(c echo.Context) error {
	sessionID := c.Param("sessionId")
	messages, err := h.Sessions.History(c.Request().Context(), sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"history": messages})
}

func (h *ChatHandler) clearHistory(c echo.Context) error {
	sessionID := c.Param("sessionId")
	if err := h.Sessions.Clear(c.Request().Context(), sessionID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *ChatHandler) sessionInfo(c echo.Context) error {
	sessionID := c.Param("sessionId")
	info, ok, err := h.Sessions.Info(c.Request().Context(), sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"lastActivity": info.LastActivity.Format(time.RFC3339),
		"messageCount": info.MessageCount,
	})
}

func (h *ChatHandler) health(c echo.Context) error {
	resp := map[string]interface{}{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.Environment != "" {
		resp["environment"] = h.Environment
	}
	if count, ok := h.Store.Count(c.Request().Context()); ok {
		resp["documents"] = count
	} else {
		resp["documents"] = "unavailable"
	}
	return c.JSON(http.StatusOK, resp)
}
