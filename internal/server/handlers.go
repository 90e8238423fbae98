package server

import (
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dvelasquez/node-perf/internal/entry"
	"github.com/dvelasquez/node-perf/internal/httpclient"
)

const (
	streamBuffer = 256
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
)

type dataResponse struct {
	Source        string                  `json:"source"`
	FetchedAt     string                  `json:"fetchedAt"`
	Data          json.RawMessage         `json:"data"`
	ResourceEntry *entry.ResourceSnapshot `json:"resourceEntry"`
}

type drainResponse struct {
	RunInfo RunInfo          `json:"runInfo"`
	Entries []entry.Snapshot `json:"entries"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleData fetches the external URL through the instrumented client and
// measures the fetch between two marks.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	url := s.opt.ExternalURL
	startMark := fmt.Sprintf("fetch-start-%.3f", s.timeline.Now())
	endMark := startMark + "-end"
	defer s.timeline.ClearMarks(startMark, endMark)

	s.timeline.Mark(startMark)
	data, _, err := httpclient.FetchJSON(r.Context(), s.client, url)
	if err != nil {
		s.log.Error("fetch failed", zap.String("url", url), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.timeline.Mark(endMark)
	if _, err := s.timeline.Measure("fetch "+url, startMark, endMark); err != nil {
		s.log.Warn("measure failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, dataResponse{
		Source:        url,
		FetchedAt:     s.opt.Now().UTC().Format(isoMillis),
		Data:          data,
		ResourceEntry: s.lastResource(url),
	})
}

// lastResource returns the most recent resource entry recorded for url.
func (s *Server) lastResource(url string) *entry.ResourceSnapshot {
	logged := s.timeline.EntriesByKind(entry.KindResource)
	for i := len(logged) - 1; i >= 0; i-- {
		if logged[i].Name != url {
			continue
		}
		if snap, ok := entry.Normalize(logged[i]); ok {
			if res, ok := snap.(entry.ResourceSnapshot); ok {
				return &res
			}
		}
	}
	return nil
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	// Entries of requests that completed before this one may still be queued
	// in the dispatcher.
	if err := s.timeline.Flush(r.Context()); err != nil {
		s.log.Warn("flush before drain", zap.Error(err))
	}
	entries := s.collector.Drain()
	s.log.Debug("drained", zap.Int("entries", len(entries)))
	writeJSON(w, http.StatusOK, drainResponse{RunInfo: s.runInfo, Entries: entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleStream pushes every snapshot to a websocket client as a JSON text
// frame. Snapshots are dropped while the client is slower than the stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so nothing emitted after the
	// client sees 101 is missed.
	ch, cancel := s.collector.Subscribe(streamBuffer)
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				closeStream(conn)
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				s.log.Warn("encode snapshot", zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.streamsDone:
			closeStream(conn)
			return
		case <-gone:
			return
		}
	}
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
