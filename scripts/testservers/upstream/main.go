// Command upstream is a stand-in for EXTERNAL_URL when running perf-target
// locally. It serves JSON todos with configurable latency and failures.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type options struct {
	latency   time.Duration
	jitter    time.Duration
	errorRate float64
}

type handler struct {
	opt options

	mu  sync.Mutex
	rnd *rand.Rand
}

func main() {
	port := flag.Int("port", 4000, "Listening port")
	latency := flag.Duration("latency", 20*time.Millisecond, "Base response delay")
	jitter := flag.Duration("jitter", 10*time.Millisecond, "Random delay added on top of --latency")
	errorRate := flag.Float64("error-rate", 0, "Fraction of requests answered with 503")
	flag.Parse()

	if *port <= 0 {
		log.Fatalf("port must be > 0")
	}
	if *errorRate < 0 || *errorRate > 1 {
		log.Fatalf("error-rate must be between 0 and 1")
	}

	h := newHandler(options{latency: *latency, jitter: *jitter, errorRate: *errorRate}, time.Now().UnixNano())
	addr := fmt.Sprintf(":%d", *port)
	log.Printf("upstream listening on %s (try http://localhost%s/todos/1)", addr, addr)
	log.Fatal(http.ListenAndServe(addr, h.routes()))
}

func newHandler(opt options, seed int64) *handler {
	return &handler{opt: opt, rnd: rand.New(rand.NewSource(seed))}
}

func (h *handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /todos/{id}", h.handleTodo)
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, map[string]any{"error": "not found", "path": r.URL.Path})
	})
	return mux
}

func (h *handler) handleTodo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "id must be a positive integer"})
		return
	}

	delay, fail := h.roll()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "injected failure"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"userId":    (id-1)/20 + 1,
		"id":        id,
		"title":     fmt.Sprintf("todo %d", id),
		"completed": id%2 == 0,
	})
}

// roll draws the delay and failure decision for one request.
func (h *handler) roll() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delay := h.opt.latency
	if h.opt.jitter > 0 {
		delay += time.Duration(h.rnd.Int63n(int64(h.opt.jitter)))
	}
	return delay, h.rnd.Float64() < h.opt.errorRate
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
