package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/gridcity/internal/catalog"
	"github.com/talgya/gridcity/internal/engine"
	"github.com/talgya/gridcity/internal/grid"
	"github.com/talgya/gridcity/internal/persistence"
)

func newTestServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	if s.Sim == nil {
		sim, err := engine.NewSimulation(engine.DefaultOptions())
		if err != nil {
			t.Fatalf("NewSimulation: %v", err)
		}
		s.Sim = sim
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, &Server{})
	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body := decode[map[string]any](t, resp)
	if body["money"] != float64(10000) {
		t.Errorf("money = %v", body["money"])
	}
	if body["money_display"] != "$10,000" {
		t.Errorf("money_display = %v", body["money_display"])
	}
	if body["happiness"] != 0.5 || body["paused"] != false {
		t.Errorf("status = %v", body)
	}
}

func TestPlaceAndDemolish(t *testing.T) {
	s := &Server{}
	ts := newTestServer(t, s)

	resp := post(t, ts.URL+"/api/v1/place", "", `{"x":2,"y":3,"type":"residential"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("place status = %d", resp.StatusCode)
	}
	placed := decode[map[string]any](t, resp)
	if placed["outcome"] != "ok" || placed["money"] != float64(9900) || placed["amount"] != float64(100) {
		t.Errorf("place response = %v", placed)
	}

	resp = post(t, ts.URL+"/api/v1/place", "", `{"x":2,"y":3,"type":"park"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("occupied place status = %d, want 409", resp.StatusCode)
	}

	// (70, 100) on 32-unit tiles is cell (2,3).
	resp = post(t, ts.URL+"/api/v1/demolish", "", `{"world":{"x":70,"y":100}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("demolish status = %d", resp.StatusCode)
	}
	gone := decode[map[string]any](t, resp)
	if gone["amount"] != float64(50) || gone["money"] != float64(9950) || gone["type"] != "residential" {
		t.Errorf("demolish response = %v", gone)
	}

	var at catalog.Type
	s.Sim.Do(func() { at = s.Sim.Grid.BuildingAt(grid.Cell{X: 2, Y: 3}) })
	if at != catalog.None {
		t.Errorf("cell still holds %v", at)
	}
}

func TestPlaceRejections(t *testing.T) {
	ts := newTestServer(t, &Server{})
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{"x":`, http.StatusBadRequest},
		{"missing coords", `{"type":"road"}`, http.StatusBadRequest},
		{"unknown type", `{"x":1,"y":1,"type":"castle"}`, http.StatusBadRequest},
		{"none", `{"x":1,"y":1,"type":"none"}`, http.StatusBadRequest},
		{"outside", `{"x":40,"y":1,"type":"road"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp := post(t, ts.URL+"/api/v1/place", "", tt.body)
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, resp.StatusCode, tt.want)
		}
	}

	resp, err := http.Get(ts.URL + "/api/v1/place")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET place = %d, want 405", resp.StatusCode)
	}
}

func TestUnaffordablePlacement(t *testing.T) {
	opts := engine.DefaultOptions()
	opts.Economy.StartingMoney = 20
	sim, err := engine.NewSimulation(opts)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	ts := newTestServer(t, &Server{Sim: sim})

	resp := post(t, ts.URL+"/api/v1/place", "", `{"x":0,"y":0,"type":"park"}`)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["outcome"] != "unaffordable" || body["money"] != float64(20) {
		t.Errorf("body = %v", body)
	}
}

func TestAdminKeyGuardsPosts(t *testing.T) {
	ts := newTestServer(t, &Server{AdminKey: "k"})

	if resp := post(t, ts.URL+"/api/v1/pause", "", `{"paused":true}`); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/api/v1/pause", "wrong", `{"paused":true}`); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", resp.StatusCode)
	}
	resp := post(t, ts.URL+"/api/v1/pause", "k", `{"paused":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("good token = %d", resp.StatusCode)
	}
	if body := decode[map[string]bool](t, resp); !body["paused"] {
		t.Error("pause not applied")
	}

	// Reads stay public.
	get, err := http.Get(ts.URL + "/api/v1/pause")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Errorf("GET pause = %d", get.StatusCode)
	}
}

func TestPauseToggle(t *testing.T) {
	s := &Server{}
	ts := newTestServer(t, s)

	post(t, ts.URL+"/api/v1/pause", "", `{}`)
	var paused bool
	s.Sim.Do(func() { paused = s.Sim.Pause.Paused() })
	if !paused {
		t.Error("empty body should toggle pause on")
	}
	post(t, ts.URL+"/api/v1/pause", "", `{}`)
	s.Sim.Do(func() { paused = s.Sim.Pause.Paused() })
	if paused {
		t.Error("second toggle should resume")
	}
}

func TestRateLimitOnPosts(t *testing.T) {
	ts := newTestServer(t, &Server{PostLimit: 2})

	for i := 0; i < 2; i++ {
		if resp := post(t, ts.URL+"/api/v1/pause", "", `{}`); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d = %d", i, resp.StatusCode)
		}
	}
	resp := post(t, ts.URL+"/api/v1/pause", "", `{}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("third POST = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// GETs are not counted.
	get, err := http.Get(ts.URL + "/api/v1/pause")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Errorf("GET after limit = %d", get.StatusCode)
	}
}

func TestCellAndGrid(t *testing.T) {
	s := &Server{}
	ts := newTestServer(t, s)
	s.Sim.Do(func() { s.Sim.Placer.PlaceType(grid.Cell{X: 4, Y: 5}, catalog.Park) })

	resp, err := http.Get(ts.URL + "/api/v1/cell/4/5?type=road")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	cell := decode[map[string]any](t, resp)
	if cell["type"] != "park" || cell["preview"] != "occupied" {
		t.Errorf("cell = %v", cell)
	}
	world := cell["world"].(map[string]any)
	if world["x"] != float64(128) || world["y"] != float64(160) {
		t.Errorf("world = %v", world)
	}

	missing, err := http.Get(ts.URL + "/api/v1/cell/99/0")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("outside cell = %d, want 404", missing.StatusCode)
	}

	g, err := http.Get(ts.URL + "/api/v1/grid")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer g.Body.Close()
	var body struct {
		Width  int        `json:"width"`
		Height int        `json:"height"`
		Cells  [][]string `json:"cells"`
	}
	if err := json.NewDecoder(g.Body).Decode(&body); err != nil {
		t.Fatalf("decode grid: %v", err)
	}
	if body.Width != 40 || len(body.Cells) != 30 || len(body.Cells[0]) != 40 {
		t.Fatalf("grid = %dx%d", len(body.Cells[0]), len(body.Cells))
	}
	if body.Cells[5][4] != "park" || body.Cells[0][0] != "none" {
		t.Errorf("cells[5][4] = %q", body.Cells[5][4])
	}
}

func TestBuildings(t *testing.T) {
	ts := newTestServer(t, &Server{})
	resp, err := http.Get(ts.URL + "/api/v1/buildings")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	specs := decode[[]catalog.Spec](t, resp)
	if len(specs) != 5 || specs[0].Type != catalog.Residential || specs[0].Capacity != 10 {
		t.Errorf("buildings = %+v", specs)
	}
}

func TestHistory(t *testing.T) {
	noDB := newTestServer(t, &Server{})
	resp, err := http.Get(noDB.URL + "/api/v1/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("without ledger = %d, want 503", resp.StatusCode)
	}

	db, err := persistence.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if err := db.Write(persistence.Batch{
		Population: []engine.PopulationReport{{Tick: 1, Capacity: 10, Population: 1, Delta: 1, Happiness: 0.5}},
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ts := newTestServer(t, &Server{DB: db})
	resp, err = http.Get(ts.URL + "/api/v1/history?limit=5")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Economy    []persistence.EconomyRow    `json:"economy"`
		Population []persistence.PopulationRow `json:"population"`
		Changes    []persistence.ChangeRow     `json:"changes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Economy == nil || len(body.Economy) != 0 {
		t.Errorf("economy = %v, want empty array", body.Economy)
	}
	if len(body.Population) != 1 || body.Population[0].Population != 1 {
		t.Errorf("population = %+v", body.Population)
	}
}

func TestSpeed(t *testing.T) {
	s := &Server{}
	ts := newTestServer(t, s)
	s.Eng = engine.NewEngine(s.Sim)

	resp := post(t, ts.URL+"/api/v1/speed", "", `{"speed":4}`)
	if got := decode[map[string]float64](t, resp); got["speed"] != 4 {
		t.Errorf("speed = %v", got)
	}
	if resp := post(t, ts.URL+"/api/v1/speed", "", `{"speed":-1}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative speed = %d, want 400", resp.StatusCode)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

func TestWebSocketStream(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	s := &Server{Hub: hub}
	ts := newTestServer(t, s)
	s.Sim.Do(func() { s.BridgeEvents() })

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if m := readMessage(t, conn); m.Type != "full_state" {
		t.Fatalf("first message = %q, want full_state", m.Type)
	}

	resp := post(t, ts.URL+"/api/v1/place", "", `{"x":1,"y":1,"type":"road"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("place = %d", resp.StatusCode)
	}

	changed := readMessage(t, conn)
	if changed.Type != "grid_changed" {
		t.Fatalf("message = %q, want grid_changed", changed.Type)
	}
	payload := changed.Payload.(map[string]any)
	if payload["new"] != "road" {
		t.Errorf("payload = %v", payload)
	}
	money := readMessage(t, conn)
	if money.Type != "money_changed" {
		t.Fatalf("message = %q, want money_changed", money.Type)
	}
	if money.Payload.(map[string]any)["money"] != float64(9990) {
		t.Errorf("payload = %v", money.Payload)
	}
}

func TestHubDropsEventsWithoutBlocking(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish("tick", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked without a running hub")
	}
	if n := len(hub.Broadcast); n != cap(hub.Broadcast) {
		t.Errorf("queued %d, want a full buffer of %d", n, cap(hub.Broadcast))
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("other IPs have their own bucket")
	}
	if got := rl.RetryAfter("a"); got != 61 {
		t.Errorf("RetryAfter = %d, want 61", got)
	}
	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Error("window reset should allow again")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil))
	r.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(r); got != "10.0.0.1" {
		t.Errorf("clientIP = %q", got)
	}
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := clientIP(r); got != "1.2.3.4" {
		t.Errorf("clientIP with XFF = %q", got)
	}
}
