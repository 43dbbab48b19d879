// Package dashboard: event handling and message formatting.
package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/taskmirror/taskmirror/internal/orchestrator"
)

// StatsData accumulates totals across the passes observed by this server
// instance.
type StatsData struct {
	Passes            int `json:"passes"`
	FailedPasses      int `json:"failed_passes"`
	Created           int `json:"created"`
	Updated           int `json:"updated"`
	Deleted           int `json:"deleted"`
	ConflictsResolved int `json:"conflicts_resolved"`
	DuplicatesRemoved int `json:"duplicates_removed"`
}

// Handler subscribes to orchestrator pass summaries and formats them as
// dashboard messages. Register it with orchestrator.OnSummary.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
	last  *orchestrator.Summary
}

// NewHandler creates an event handler connected to a dashboard server and
// installs its /status payload.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{server: server, logger: logger}
	server.SetStatus(h.statusPayload)
	return h
}

// OnPassComplete handles one finished pass. Safe to call from the pass's
// goroutine: broadcasting is buffered and never blocks.
func (h *Handler) OnPassComplete(summary *orchestrator.Summary) {
	h.mu.Lock()
	h.stats.Passes++
	if !summary.Success {
		h.stats.FailedPasses++
	}
	h.stats.Created += summary.Local.Created + summary.Replica.Created + summary.Cloud.Created
	h.stats.Updated += summary.Local.Updated + summary.Replica.Updated + summary.Cloud.Updated
	h.stats.Deleted += summary.Local.Deleted + summary.Replica.Deleted + summary.Cloud.Deleted
	h.stats.ConflictsResolved += summary.ConflictsResolved
	h.stats.DuplicatesRemoved += summary.DuplicatesRemoved
	h.last = summary
	stats := h.stats
	h.mu.Unlock()

	msgType := MessageTypePassComplete
	if !summary.Success {
		msgType = MessageTypePassFailed
	}

	dataJSON, err := json.Marshal(summary)
	if err != nil {
		h.logger.Printf("Failed to marshal pass summary: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return
	}
	h.server.Broadcast(Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      statsJSON,
	})
}

// GetStats returns the cumulative statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) statusPayload() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]any{
		"stats":     h.stats,
		"last_pass": h.last,
	}
}
