package gateway

import (
	"fmt"
	"sync"
	"time"
)

// Stats collects per-session relay counters for the end-of-session summary.
type Stats struct {
	SessionID       string
	StartTime       time.Time
	EndTime         time.Time
	Frames          int
	FrameBytes      int
	Predictions     int
	Errors          int
	LastText        string
	FirstResultTime *time.Time
	mu              sync.Mutex
}

func NewStats(sessionID string) *Stats {
	return &Stats{
		SessionID: sessionID,
		StartTime: time.Now(),
	}
}

func (st *Stats) AddFrame(bytes int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Frames++
	st.FrameBytes += bytes
}

func (st *Stats) AddResult(text string, ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.FirstResultTime == nil {
		now := time.Now()
		st.FirstResultTime = &now
	}

	if ok {
		st.Predictions++
		if text != "" {
			st.LastText = text
		}
	} else {
		st.Errors++
	}
}

func (st *Stats) Finalize() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.EndTime = time.Now()
}

func (st *Stats) Summary() string {
	st.mu.Lock()
	defer st.mu.Unlock()

	duration := st.EndTime.Sub(st.StartTime)
	var latency time.Duration
	if st.FirstResultTime != nil {
		latency = st.FirstResultTime.Sub(st.StartTime)
	}

	return fmt.Sprintf(
		"Session: %s\n"+
			"Duration: %v\n"+
			"Frames: %d (%d bytes)\n"+
			"Predictions: %d\n"+
			"Errors: %d\n"+
			"First Result Latency: %v\n"+
			"Last Text: %s\n",
		st.SessionID,
		duration,
		st.Frames,
		st.FrameBytes,
		st.Predictions,
		st.Errors,
		latency,
		st.LastText,
	)
}
