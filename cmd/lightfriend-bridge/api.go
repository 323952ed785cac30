// Copyright 2025-2026 Rasmus Ahtava

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ahtavarasmus/lightfriend-sub000/pkg/bridge"
)

// maxSendBodySize caps POST /api/send request bodies (8 MB, covers media).
const maxSendBodySize = 8 << 20

// api is the interactive HTTP surface over the bridge core: room listing,
// search, history fetch and outbound send. Authentication sits in front of
// this service; requests arrive with a resolved user id.
type api struct {
	catalog *bridge.Catalog
	fetcher *bridge.Fetcher
	sender  *bridge.Sender
	log     zerolog.Logger
}

func newAPI(catalog *bridge.Catalog, fetcher *bridge.Fetcher, sender *bridge.Sender, log zerolog.Logger) *api {
	return &api{
		catalog: catalog,
		fetcher: fetcher,
		sender:  sender,
		log:     log.With().Str("component", "api").Logger(),
	}
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rooms", a.handleRooms)
	mux.HandleFunc("/api/contacts", a.handleContacts)
	mux.HandleFunc("/api/search", a.handleSearch)
	mux.HandleFunc("/api/messages", a.handleMessages)
	mux.HandleFunc("/api/activity", a.handleActivity)
	mux.HandleFunc("/api/send", a.handleSend)
	return mux
}

// parseCommon extracts the user id and service every endpoint needs.
func (a *api) parseCommon(w http.ResponseWriter, r *http.Request) (int64, bridge.Service, bool) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid or missing user_id", http.StatusBadRequest)
		return 0, "", false
	}
	svc, ok := bridge.ParseService(r.URL.Query().Get("service"))
	if !ok {
		http.Error(w, "invalid or missing service", http.StatusBadRequest)
		return 0, "", false
	}
	return userID, svc, true
}

func (a *api) handleRooms(w http.ResponseWriter, r *http.Request) {
	userID, svc, ok := a.parseCommon(w, r)
	if !ok {
		return
	}
	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	rooms, err := a.catalog.ListServiceRooms(r.Context(), userID, svc, unreadOnly)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, map[string]any{"rooms": rooms})
}

func (a *api) handleContacts(w http.ResponseWriter, r *http.Request) {
	userID, svc, ok := a.parseCommon(w, r)
	if !ok {
		return
	}
	rooms, err := a.catalog.ListRecentContacts(r.Context(), userID, svc)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, map[string]any{"contacts": rooms})
}

func (a *api) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID, svc, ok := a.parseCommon(w, r)
	if !ok {
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing q", http.StatusBadRequest)
		return
	}
	matches, err := a.catalog.SearchRooms(r.Context(), userID, svc, query)
	if err != nil {
		a.writeError(w, err)
		return
	}
	type result struct {
		RoomName     string  `json:"room_name"`
		ChatName     string  `json:"chat_name"`
		Score        float64 `json:"score"`
		Tier         string  `json:"tier"`
		LastActivity int64   `json:"last_activity"`
	}
	results := make([]result, len(matches))
	for i, m := range matches {
		results[i] = result{
			RoomName:     m.Candidate.Name,
			ChatName:     m.Candidate.ChatName,
			Score:        m.Score,
			Tier:         m.Tier.String(),
			LastActivity: m.Candidate.LastActivity,
		}
	}
	a.writeJSON(w, map[string]any{"results": results})
}

func (a *api) handleMessages(w http.ResponseWriter, r *http.Request) {
	userID, svc, ok := a.parseCommon(w, r)
	if !ok {
		return
	}
	chat := r.URL.Query().Get("chat")
	if chat == "" {
		http.Error(w, "missing chat", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, roomName, err := a.fetcher.FetchRoomMessages(r.Context(), userID, svc, chat, limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, map[string]any{"room_name": roomName, "messages": messages})
}

func (a *api) handleActivity(w http.ResponseWriter, r *http.Request) {
	userID, svc, ok := a.parseCommon(w, r)
	if !ok {
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	messages, err := a.fetcher.FetchLatestPerRoom(r.Context(), userID, svc, since)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, map[string]any{"messages": messages})
}

type sendRequest struct {
	UserID  int64  `json:"user_id"`
	Service string `json:"service"`
	Chat    string `json:"chat"`
	Text    string `json:"text"`
}

func (a *api) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSendBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var req sendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	svc, ok := bridge.ParseService(req.Service)
	if !ok {
		http.Error(w, "invalid service", http.StatusBadRequest)
		return
	}
	if req.Chat == "" || req.Text == "" {
		http.Error(w, "missing chat or text", http.StatusBadRequest)
		return
	}
	roomName, err := a.sender.SendMessage(r.Context(), req.UserID, svc, req.Chat, req.Text)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, map[string]any{"sent_to": roomName})
}

// writeError maps core errors to HTTP statuses. Precondition and not-found
// errors are user-facing strings by design.
func (a *api) writeError(w http.ResponseWriter, err error) {
	var noMatch *bridge.NoMatchError
	switch {
	case errors.Is(err, bridge.ErrBridgeNotConnected):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	case errors.As(err, &noMatch):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, bridge.ErrNoSession):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		a.log.Error().Err(err).Msg("Request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (a *api) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn().Err(err).Msg("Failed to write response")
	}
}
