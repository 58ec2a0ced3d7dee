// Package api provides the HTTP API for observing and playing a city.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token when an admin key is configured
// and are rate-limited per client IP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/economy"
	"github.com/talgya/gridcity/internal/engine"
	"github.com/talgya/gridcity/internal/grid"
	"github.com/talgya/gridcity/internal/persistence"
)

// Server serves one simulation over HTTP and WebSocket.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine      // Optional; enables /speed
	DB       *persistence.DB     // Optional; enables /history
	Hub      *Hub                // Optional; enables /ws
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = open.

	// PostLimit is the number of POSTs allowed per IP per minute (default 240).
	PostLimit int

	httpSrv *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	limit := s.PostLimit
	if limit <= 0 {
		limit = 240
	}
	limiter := NewRateLimiter(limit, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/grid", s.handleGrid)
	mux.HandleFunc("/api/v1/cell/", s.handleCell)
	mux.HandleFunc("/api/v1/buildings", s.handleBuildings)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/ws", s.handleWs)

	// Control endpoints (POST, bearer token + rate limit).
	mux.HandleFunc("/api/v1/place", s.control(limiter, s.handlePlace))
	mux.HandleFunc("/api/v1/demolish", s.control(limiter, s.handleDemolish))
	mux.HandleFunc("/api/v1/pause", s.control(limiter, s.handlePause))
	mux.HandleFunc("/api/v1/speed", s.control(limiter, s.handleSpeed))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the HTTP server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// BridgeEvents republishes the simulation's feeds on the hub. Call it
// inside Sim.Do or before the engine starts; the returned func undoes it
// and has the same locking rule.
func (s *Server) BridgeEvents() func() {
	if s.Hub == nil {
		return func() {}
	}
	sim, hub := s.Sim, s.Hub

	gridTok := sim.Grid.Changes().Subscribe(func(c grid.Change) { hub.Publish("grid_changed", c) })
	moneyTok := sim.Economy.MoneyChanged().Subscribe(func(m int) {
		hub.Publish("money_changed", map[string]int{"money": m})
	})
	popTok := sim.Population.PopulationChanged().Subscribe(func(p int) {
		hub.Publish("population_changed", map[string]int{"population": p})
	})
	moodTok := sim.Population.HappinessChanged().Subscribe(func(h float64) {
		hub.Publish("happiness_changed", map[string]float64{"happiness": h})
	})
	pauseTok := sim.Pause.Changed().Subscribe(func(p bool) {
		hub.Publish("paused", map[string]bool{"paused": p})
	})
	econTok := sim.Economy.Ticked().Subscribe(func(r economy.Report) { hub.Publish("economy_tick", r) })
	growTok := sim.Population.Ticked().Subscribe(func(r engine.PopulationReport) { hub.Publish("population_tick", r) })

	return func() {
		sim.Grid.Changes().Unsubscribe(gridTok)
		sim.Economy.MoneyChanged().Unsubscribe(moneyTok)
		sim.Population.PopulationChanged().Unsubscribe(popTok)
		sim.Population.HappinessChanged().Unsubscribe(moodTok)
		sim.Pause.Changed().Unsubscribe(pauseTok)
		sim.Economy.Ticked().Unsubscribe(econTok)
		sim.Population.Ticked().Unsubscribe(growTok)
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// control guards POST requests with the admin token and the rate limiter.
// GET requests pass through (for endpoints that support both).
func (s *Server) control(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	limited := RateLimitMiddleware(rl, next)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next(w, r)
			return
		}
		if s.AdminKey != "" && !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		limited(w, r)
	}
}

type statusResponse struct {
	engine.Status
	MoneyDisplay string  `json:"money_display"`
	Speed        float64 `json:"speed"`
	Running      bool    `json:"running"`
	Session      string  `json:"session,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	s.Sim.Do(func() {
		resp.Status = s.Sim.Status()
		if s.Eng != nil {
			resp.Speed = s.Eng.Speed
		}
	})
	resp.MoneyDisplay = "$" + humanize.Comma(int64(resp.Money))
	if s.Eng != nil {
		resp.Running = s.Eng.Running()
	}
	if s.DB != nil {
		resp.Session = s.DB.Session()
	}
	writeJSON(w, resp)
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	var resp struct {
		Width    int              `json:"width"`
		Height   int              `json:"height"`
		CellSize float64          `json:"cell_size"`
		Origin   grid.Point       `json:"origin"`
		Cells    [][]catalog.Type `json:"cells"`
	}
	s.Sim.Do(func() {
		g := s.Sim.Grid
		resp.Width, resp.Height = g.Width(), g.Height()
		resp.CellSize = g.CellSize()
		resp.Origin = g.GridToWorld(grid.Cell{})
		resp.Cells = g.Cells()
	})
	writeJSON(w, resp)
}

// handleCell serves GET /api/v1/cell/:x/:y. With ?type=name it also
// reports whether that building could be placed there.
func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 5 {
		http.Error(w, "usage: /api/v1/cell/:x/:y", http.StatusBadRequest)
		return
	}
	x, errX := strconv.Atoi(parts[3])
	y, errY := strconv.Atoi(parts[4])
	if errX != nil || errY != nil {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	c := grid.Cell{X: x, Y: y}

	var probe catalog.Type
	if name := r.URL.Query().Get("type"); name != "" {
		t, err := catalog.ParseType(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		probe = t
	}

	var resp struct {
		Cell     grid.Cell       `json:"cell"`
		Type     catalog.Type    `json:"type"`
		World    grid.Point      `json:"world"`
		Building *catalog.Spec   `json:"building,omitempty"`
		Preview  *engine.Outcome `json:"preview,omitempty"`
	}
	found := true
	s.Sim.Do(func() {
		if !s.Sim.Grid.IsValidPosition(c) {
			found = false
			return
		}
		resp.Cell = c
		resp.Type = s.Sim.Grid.BuildingAt(c)
		resp.World = s.Sim.Grid.GridToWorld(c)
		if resp.Type != catalog.None {
			spec := s.Sim.Catalog.Get(resp.Type)
			resp.Building = &spec
		}
		if probe != catalog.None {
			o := s.Sim.Placer.PreviewType(c, probe)
			resp.Preview = &o
		}
	})
	if !found {
		http.Error(w, "cell outside grid", http.StatusNotFound)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleBuildings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Catalog.All())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "ledger not available", http.StatusServiceUnavailable)
		return
	}

	limit := 30
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	econ, err := s.DB.EconomyHistory(limit)
	if err != nil {
		slog.Error("economy history query failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	pop, err := s.DB.PopulationHistory(limit)
	if err != nil {
		slog.Error("population history query failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	changes, err := s.DB.RecentChanges(limit)
	if err != nil {
		slog.Error("change history query failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if econ == nil {
		econ = []persistence.EconomyRow{}
	}
	if pop == nil {
		pop = []persistence.PopulationRow{}
	}
	if changes == nil {
		changes = []persistence.ChangeRow{}
	}
	writeJSON(w, map[string]any{
		"economy":    econ,
		"population": pop,
		"changes":    changes,
	})
}

// cellRequest addresses a cell either by index or by surface position.
type cellRequest struct {
	X     *int        `json:"x"`
	Y     *int        `json:"y"`
	World *grid.Point `json:"world,omitempty"`
	Type  string      `json:"type,omitempty"`
}

func (req cellRequest) cell(g *grid.Grid) grid.Cell {
	if req.World != nil {
		return g.WorldToGrid(*req.World)
	}
	return grid.Cell{X: *req.X, Y: *req.Y}
}

func (s *Server) decodeCellRequest(w http.ResponseWriter, r *http.Request) (cellRequest, bool) {
	var req cellRequest
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return req, false
	}
	if req.World == nil && (req.X == nil || req.Y == nil) {
		http.Error(w, "x and y (or world) required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

type actionResponse struct {
	Outcome engine.Outcome `json:"outcome"`
	Cell    grid.Cell      `json:"cell"`
	Type    catalog.Type   `json:"type"`
	Amount  int            `json:"amount"` // Charged on place, refunded on demolish
	Money   int            `json:"money"`
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCellRequest(w, r)
	if !ok {
		return
	}
	t, err := catalog.ParseType(req.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp actionResponse
	s.Sim.Do(func() {
		c := req.cell(s.Sim.Grid)
		resp.Cell, resp.Type = c, t
		resp.Outcome = s.Sim.Placer.PlaceType(c, t)
		if resp.Outcome == engine.OutcomeOK {
			resp.Amount = s.Sim.Catalog.Get(t).Cost
		}
		resp.Money = s.Sim.Economy.Balance()
	})
	writeJSONStatus(w, outcomeStatus(resp.Outcome), resp)
}

func (s *Server) handleDemolish(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCellRequest(w, r)
	if !ok {
		return
	}

	var resp actionResponse
	s.Sim.Do(func() {
		c := req.cell(s.Sim.Grid)
		resp.Cell = c
		resp.Type = s.Sim.Grid.BuildingAt(c)
		resp.Outcome = s.Sim.Placer.Demolish(c)
		if resp.Outcome == engine.OutcomeOK {
			resp.Amount = s.Sim.Placer.Refund(resp.Type)
		}
		resp.Money = s.Sim.Economy.Balance()
	})
	writeJSONStatus(w, outcomeStatus(resp.Outcome), resp)
}

// handlePause reads or sets the pause flag. A POST without "paused" toggles.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Paused *bool `json:"paused"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		s.Sim.Do(func() {
			if req.Paused == nil {
				s.Sim.Pause.Toggle()
			} else {
				s.Sim.Pause.SetPaused(*req.Paused)
			}
		})
	}

	var paused bool
	s.Sim.Do(func() { paused = s.Sim.Pause.Paused() })
	writeJSON(w, map[string]bool{"paused": paused})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not running", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Sim.Do(func() { s.Eng.Speed = req.Speed })
		slog.Info("speed changed", "speed", req.Speed)
	}

	var speed float64
	s.Sim.Do(func() { speed = s.Eng.Speed })
	writeJSON(w, map[string]float64{"speed": speed})
}

// handleWs upgrades to a WebSocket that receives a full_state snapshot
// followed by every simulation event.
func (s *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	if s.Hub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	s.Hub.serveWs(w, r, func(register func(Message)) {
		s.Sim.Do(func() {
			register(Message{
				Type:   "full_state",
				Sender: "sim",
				Payload: map[string]any{
					"status": s.Sim.Status(),
					"cells":  s.Sim.Grid.Cells(),
				},
			})
		})
	})
}

func outcomeStatus(o engine.Outcome) int {
	switch o {
	case engine.OutcomeOK:
		return http.StatusOK
	case engine.OutcomeUnaffordable:
		return http.StatusPaymentRequired
	case engine.OutcomeOccupied, engine.OutcomeEmpty:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
