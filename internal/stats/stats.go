package stats

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Counters tracks runtime statistics. All fields are safe for concurrent use.
type Counters struct {
	startTime time.Time

	ConnectionsAccepted atomic.Int64
	ConnectionsRejected atomic.Int64 // refused at accept: server full
	ActiveConnections   atomic.Int64
	MessagesIn          atomic.Int64
	FramesSent          atomic.Int64
	FramesDropped       atomic.Int64 // recipient gone or queue full

	SessionsCreated atomic.Int64
	SessionsEvicted atomic.Int64

	PersistWrites   atomic.Int64
	PersistFailures atomic.Int64
	PersistDropped  atomic.Int64 // mirror queue full
}

func New() *Counters {
	return &Counters{startTime: time.Now()}
}

type Snapshot struct {
	Uptime string `json:"uptime"`

	ConnectionsAccepted int64 `json:"connections_accepted"`
	ConnectionsRejected int64 `json:"connections_rejected"`
	ActiveConnections   int64 `json:"active_connections"`
	MessagesIn          int64 `json:"messages_in"`
	FramesSent          int64 `json:"frames_sent"`
	FramesDropped       int64 `json:"frames_dropped"`

	SessionsCreated int64 `json:"sessions_created"`
	SessionsEvicted int64 `json:"sessions_evicted"`

	PersistWrites   int64 `json:"persist_writes"`
	PersistFailures int64 `json:"persist_failures"`
	PersistDropped  int64 `json:"persist_dropped"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Uptime:              time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsAccepted: c.ConnectionsAccepted.Load(),
		ConnectionsRejected: c.ConnectionsRejected.Load(),
		ActiveConnections:   c.ActiveConnections.Load(),
		MessagesIn:          c.MessagesIn.Load(),
		FramesSent:          c.FramesSent.Load(),
		FramesDropped:       c.FramesDropped.Load(),
		SessionsCreated:     c.SessionsCreated.Load(),
		SessionsEvicted:     c.SessionsEvicted.Load(),
		PersistWrites:       c.PersistWrites.Load(),
		PersistFailures:     c.PersistFailures.Load(),
		PersistDropped:      c.PersistDropped.Load(),
	}
}

// ServeHTTP writes the snapshot as JSON.
func (c *Counters) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(c.Snapshot()); err != nil {
		log.Warn().Err(err).Msg("encode stats")
	}
}
