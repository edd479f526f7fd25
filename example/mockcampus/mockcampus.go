// Package mockcampus is a fake campus backend for demos: a REST API serving
// device and attendance snapshots plus a WebSocket push channel announcing
// changes as they happen.
package mockcampus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server holds the simulated campus state.
type Server struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu         sync.Mutex
	devices    map[string]map[string]any
	records    map[int]map[string]any
	nextRecord int
	clients    map[*websocket.Conn]struct{}
}

var rooms = []string{"B-204", "C-101"}

var students = []struct{ id, name string }{
	{"S1001", "Ada Lovelace"},
	{"S1002", "Alan Turing"},
	{"S1003", "Grace Hopper"},
	{"S1004", "Edsger Dijkstra"},
}

// New returns a server seeded with two devices per room.
func New(logger *slog.Logger) *Server {
	s := &Server{
		logger:     logger,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		devices:    make(map[string]map[string]any),
		records:    make(map[int]map[string]any),
		nextRecord: 1,
		clients:    make(map[*websocket.Conn]struct{}),
	}

	now := time.Now().UTC()
	for i, room := range rooms {
		for j, kind := range []string{"esp32", "raspberry_pi"} {
			id := fmt.Sprintf("%s-%d%d", kind, i+1, j+1)
			s.devices[id] = map[string]any{
				"device_id":   id,
				"cluster_id":  i + 1,
				"device_type": kind,
				"room":        room,
				"ip":          fmt.Sprintf("10.0.%d.%d", i+1, j+10),
				"has_rfid":    kind == "esp32",
				"has_pir":     true,
				"has_camera":  kind == "raspberry_pi",
				"has_ble":     kind == "esp32",
				"status":      "active",
				"last_seen":   now.Format(time.RFC3339),
			}
		}
	}
	return s
}

// Handler serves the REST snapshots under /api/v1 and the push channel at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/devices", s.handleDevices)
	mux.HandleFunc("GET /api/v1/attendance/records", s.handleRecords)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Run mutates the campus every tick until ctx is done.
func (s *Server) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeClients()
			return
		case <-ticker.C:
			s.step(rand.Intn(10))
		}
	}
}

// ListenAndServe runs the HTTP server and the simulation until ctx is done.
func ListenAndServe(ctx context.Context, addr string, logger *slog.Logger) error {
	s := New(logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.Run(ctx, 3*time.Second)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// step applies one simulated event. roll selects the kind.
func (s *Server) step(roll int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	switch {
	case roll < 4:
		id := s.randomDevice()
		d := s.devices[id]
		d["last_seen"] = now.Format(time.RFC3339)
		s.broadcast("update", "device", id, d, now)

	case roll < 5:
		id := s.randomDevice()
		d := s.devices[id]
		if d["status"] == "active" {
			d["status"] = "inactive"
		} else {
			d["status"] = "active"
		}
		s.logger.Info("device status change", "device_id", id, "status", d["status"])
		s.broadcast("update", "device", id, d, now)

	case roll < 8:
		st := students[rand.Intn(len(students))]
		if id, open := s.openRecord(st.id); open {
			r := s.records[id]
			entry, _ := time.Parse(time.RFC3339, r["entry_time"].(string))
			r["exit_time"] = now.Format(time.RFC3339)
			r["duration_minutes"] = now.Sub(entry).Minutes()
			r["status"] = "absent"
			s.logger.Info("student left", "student_id", st.id, "record_id", id)
			s.broadcast("update", "attendanceRecord", strconv.Itoa(id), r, now)
			return
		}
		id := s.nextRecord
		s.nextRecord++
		r := map[string]any{
			"id":           id,
			"student_id":   st.id,
			"student_name": st.name,
			"room":         rooms[rand.Intn(len(rooms))],
			"entry_time":   now.Format(time.RFC3339),
			"exit_time":    nil,
			"confidence":   0.8 + rand.Float64()*0.2,
			"status":       "present",
		}
		s.records[id] = r
		s.logger.Info("student entered", "student_id", st.id, "record_id", id)
		s.broadcast("update", "attendanceRecord", strconv.Itoa(id), r, now)

	default:
		for id, r := range s.records {
			if r["exit_time"] != nil {
				delete(s.records, id)
				s.logger.Info("record archived", "record_id", id)
				s.broadcast("delete", "attendanceRecord", strconv.Itoa(id), nil, now)
				return
			}
		}
	}
}

func (s *Server) randomDevice() string {
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[rand.Intn(len(ids))]
}

func (s *Server) openRecord(studentID string) (int, bool) {
	for id, r := range s.records {
		if r["student_id"] == studentID && r["exit_time"] == nil {
			return id, true
		}
	}
	return 0, false
}

// broadcast must be called with s.mu held.
func (s *Server) broadcast(kind, resourceType, id string, payload map[string]any, at time.Time) {
	msg := map[string]any{
		"type":         kind,
		"resourceType": resourceType,
		"id":           id,
		"serverTime":   at.Format(time.RFC3339Nano),
	}
	if payload != nil {
		msg["payload"] = payload
	}

	for conn := range s.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("dropping push client", "error", err)
			_ = conn.Close()
			delete(s.clients, conn)
		}
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := make([]map[string]any, 0, len(s.devices))
	for _, d := range s.devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i]["device_id"].(string) < list[j]["device_id"].(string) })
	s.writeJSON(w, map[string]any{"devices": list})
	s.mu.Unlock()
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	s.mu.Lock()
	ids := make([]int, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	if len(ids) > limit {
		ids = ids[:limit]
	}
	list := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		list = append(list, s.records[id])
	}
	s.writeJSON(w, map[string]any{"records": list})
	s.mu.Unlock()
}

// writeJSON must be called with s.mu held; the payload maps are shared.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("push client connected", "remote", r.RemoteAddr)

	// reads only detect the peer going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				delete(s.clients, conn)
				s.mu.Unlock()
				_ = conn.Close()
				return
			}
		}
	}()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		delete(s.clients, conn)
	}
}
