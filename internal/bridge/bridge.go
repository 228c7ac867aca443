// Package bridge is the HTTP/SSE transport surface: a chi router that
// publishes messages onto a world's bus, streams bus channels back out
// as Server-Sent Events, and exposes the HITL submit endpoint. It owns
// no orchestration logic — every handler is a thin adapter onto
// internal/orchestrator and internal/hitl.
//
// Grounded on hector's cmd/hector server wiring in spirit (a thin
// transport over the agent runtime) but built fresh against go-chi/chi,
// since hector's own HTTP surface is an A2A JSON-RPC server this
// module doesn't need. Request logging uses rs/zerolog, deliberately
// distinct from the core's slog logger to keep the transport layer's
// access log separate from domain logging, the way hector itself
// layers slog in core with a different logger pulled in by its server
// code.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/agentworld/core/internal/orchestrator"
	"github.com/agentworld/core/internal/worldmodel"
)

// BoundWorld pairs a live World with the Runtime driving it (its
// Runtime is constructed per world since its Bus is world-scoped).
type BoundWorld struct {
	World   *worldmodel.World
	Runtime *orchestrator.Runtime
}

// Server is the bridge's process state: a registry of worlds it can
// route requests to, keyed by worldId.
type Server struct {
	mu     sync.Mutex
	worlds map[string]*BoundWorld
	log    zerolog.Logger
	router chi.Router
}

// NewServer constructs a bridge with an empty world registry.
func NewServer() *Server {
	s := &Server{
		worlds: map[string]*BoundWorld{},
		log:    zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger(),
	}
	s.router = s.buildRouter()
	return s
}

// RegisterWorld makes world routable under /worlds/{worldId}/....
func (s *Server) RegisterWorld(bound *BoundWorld) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds[bound.World.ID] = bound
}

func (s *Server) lookup(worldID string) (*BoundWorld, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.worlds[worldID]
	return b, ok
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Route("/worlds/{worldId}", func(r chi.Router) {
		r.Post("/chats/{chatId}/messages", s.handlePostMessage)
		r.Get("/events", s.handleEvents)
		r.Post("/stop", s.handleStop)
		r.Post("/hitl/{requestId}", s.handleHITLSubmit)
	})

	return r
}

type postMessageRequest struct {
	Content          string `json:"content"`
	Sender           string `json:"sender"`
	ReplyToMessageID string `json:"replyToMessageId"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	worldID := chi.URLParam(r, "worldId")
	chatID := chi.URLParam(r, "chatId")
	bound, ok := s.lookup(worldID)
	if !ok {
		http.Error(w, "unknown world", http.StatusNotFound)
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Sender == "" {
		req.Sender = "human"
	}

	event := bound.Runtime.PublishMessage(bound.World, req.Content, req.Sender, chatID, req.ReplyToMessageID)
	writeJSON(w, http.StatusAccepted, event)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	worldID := chi.URLParam(r, "worldId")
	bound, ok := s.lookup(worldID)
	if !ok {
		http.Error(w, "unknown world", http.StatusNotFound)
		return
	}
	var req struct {
		ChatID string `json:"chatId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	bound.Runtime.Stop(worldID, req.ChatID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHITLSubmit(w http.ResponseWriter, r *http.Request) {
	worldID := chi.URLParam(r, "worldId")
	requestID := chi.URLParam(r, "requestId")
	bound, ok := s.lookup(worldID)
	if !ok {
		http.Error(w, "unknown world", http.StatusNotFound)
		return
	}
	var req struct {
		OptionID string `json:"optionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := bound.Runtime.HITL.Submit(worldID, requestID, req.OptionID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// channelParam maps the "channel" query parameter to a bus channel:
// clients subscribe to message, sse, world (tool+activity), system, or
// crud.
func channelParam(v string) (worldmodel.Channel, bool) {
	switch v {
	case "message":
		return worldmodel.ChannelMessage, true
	case "sse":
		return worldmodel.ChannelSSE, true
	case "world":
		return worldmodel.ChannelWorld, true
	case "system":
		return worldmodel.ChannelSystem, true
	case "crud":
		return worldmodel.ChannelCRUD, true
	default:
		return "", false
	}
}

// handleEvents streams one bus channel as Server-Sent Events for the
// lifetime of the request's connection.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	worldID := chi.URLParam(r, "worldId")
	bound, ok := s.lookup(worldID)
	if !ok {
		http.Error(w, "unknown world", http.StatusNotFound)
		return
	}
	ch, ok := channelParam(r.URL.Query().Get("channel"))
	if !ok {
		http.Error(w, "unknown or missing channel query param", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := make(chan any, 64)
	unsub := bound.Runtime.Bus.On(ch, func(_ context.Context, event any) {
		select {
		case events <- event:
		default:
		}
	})
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
