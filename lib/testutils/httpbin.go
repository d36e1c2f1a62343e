// Package testutils is indended only for use in tests, do not import in production code!
package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mccutchen/go-httpbin/v2/httpbin"
)

// HTTPBin is a local test server. Everything under /api/ is a small game
// service used to test chained journeys, every other path is served by
// go-httpbin (/status/{code}, /json, /delay/{n}, /gzip, /brotli, ...).
type HTTPBin struct {
	Server *httptest.Server
	Mux    *http.ServeMux
	Games  *GameAPI
}

// NewHTTPBin starts the server and stops it when the test ends.
func NewHTTPBin(t testing.TB) *HTTPBin {
	t.Helper()

	games := NewGameAPI()
	mux := http.NewServeMux()
	games.Register(mux)
	mux.Handle("/", httpbin.New())

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &HTTPBin{Server: srv, Mux: mux, Games: games}
}

// URL returns an absolute URL for path on the test server.
func (h *HTTPBin) URL(path string) string {
	return h.Server.URL + "/" + strings.TrimLeft(path, "/")
}

// Game is the resource managed by GameAPI.
type Game struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Owner   string   `json:"owner"`
	Players []string `json:"players"`
	Status  string   `json:"status"`
}

// GameAPI is an in-memory JSON API requiring a bearer token obtained from
// POST /api/auth.
type GameAPI struct {
	mu     sync.Mutex
	nextID int
	games  map[string]Game
	calls  map[string]int
}

// NewGameAPI returns an empty game service.
func NewGameAPI() *GameAPI {
	return &GameAPI{games: make(map[string]Game), calls: make(map[string]int)}
}

// Register mounts the routes on mux.
func (g *GameAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth", g.count("auth", g.auth))
	mux.HandleFunc("POST /api/games", g.count("create", g.authorized(g.create)))
	mux.HandleFunc("GET /api/games", g.count("list", g.authorized(g.list)))
	mux.HandleFunc("GET /api/games/{id}", g.count("get", g.authorized(g.get)))
	mux.HandleFunc("DELETE /api/games/{id}", g.count("delete", g.authorized(g.delete)))
}

// Calls returns how many times the named route was hit.
func (g *GameAPI) Calls(route string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[route]
}

// Len returns the number of stored games.
func (g *GameAPI) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.games)
}

func (g *GameAPI) count(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.calls[route]++
		g.mu.Unlock()
		h(w, r)
	}
}

func (g *GameAPI) auth(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed credentials"})
		return
	}
	if creds.Password != "secret" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": "tok-" + creds.Username})
}

func (g *GameAPI) authorized(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !strings.HasPrefix(token, "tok-") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing token"})
			return
		}
		h(w, r, strings.TrimPrefix(token, "tok-"))
	}
}

func (g *GameAPI) create(w http.ResponseWriter, r *http.Request, user string) {
	var game Game
	if err := json.NewDecoder(r.Body).Decode(&game); err != nil || game.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed game"})
		return
	}
	g.mu.Lock()
	g.nextID++
	game.ID = fmt.Sprintf("g-%d", g.nextID)
	game.Owner = user
	game.Status = "open"
	if game.Players == nil {
		game.Players = []string{}
	}
	g.games[game.ID] = game
	g.mu.Unlock()

	writeJSON(w, http.StatusCreated, game)
}

func (g *GameAPI) list(w http.ResponseWriter, _ *http.Request, user string) {
	g.mu.Lock()
	games := make([]Game, 0, len(g.games))
	for _, game := range g.games {
		if game.Owner == user {
			games = append(games, game)
		}
	}
	g.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"games": games})
}

func (g *GameAPI) get(w http.ResponseWriter, r *http.Request, _ string) {
	g.mu.Lock()
	game, ok := g.games[r.PathValue("id")]
	g.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such game"})
		return
	}
	writeJSON(w, http.StatusOK, game)
}

func (g *GameAPI) delete(w http.ResponseWriter, r *http.Request, _ string) {
	g.mu.Lock()
	_, ok := g.games[r.PathValue("id")]
	delete(g.games, r.PathValue("id"))
	g.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such game"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
