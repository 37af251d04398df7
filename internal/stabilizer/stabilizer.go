// Package stabilizer turns the raw prediction stream for one session into a
// deduplicated, speakable history. Repeated identical detections (the user
// holding the same sign across capture ticks) collapse into one history
// entry and one utterance.
package stabilizer

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker renders text audibly. Speak blocks until playback finishes or ctx
// is canceled; implementations are called on their own goroutine.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Entry is one accepted word in the session history.
type Entry struct {
	ID        string
	Timestamp time.Time
	Word      string
	Spoken    bool
}

// Stabilizer is the per-session result state machine. The zero value is not
// usable; construct with New. All methods are safe for concurrent use.
type Stabilizer struct {
	mu       sync.Mutex
	sink     Speaker
	history  []Entry
	lastWord string
	live     string
	gen      uint64
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a stabilizer speaking through sink. A nil sink disables
// speech; history bookkeeping still works, entries just stay unspoken.
func New(sink Speaker) *Stabilizer {
	return &Stabilizer{sink: sink}
}

// Push consumes one prediction outcome. An error outcome or a
// whitespace-only label is "no signal": it clears the live text and touches
// nothing else. A label equal to the last accepted word is suppressed.
func (s *Stabilizer) Push(text, errMsg string) {
	word := strings.TrimSpace(text)

	s.mu.Lock()
	if errMsg != "" || word == "" {
		s.live = ""
		s.mu.Unlock()
		return
	}
	s.live = word

	if word == s.lastWord {
		s.mu.Unlock()
		return
	}
	// Tail check keeps the no-consecutive-duplicates invariant even if
	// lastWord ever diverges from the history.
	if n := len(s.history); n > 0 && s.history[n-1].Word == word {
		s.lastWord = word
		s.mu.Unlock()
		return
	}

	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Word:      word,
	}
	s.history = append(s.history, entry)
	// Updated before speech starts so an identical detection arriving while
	// the utterance is still playing is already suppressed.
	s.lastWord = word

	// A new word supersedes any utterance still playing.
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	gen := s.gen
	sink := s.sink
	s.mu.Unlock()

	if sink == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := sink.Speak(ctx, entry.Word); err != nil {
			if ctx.Err() == nil {
				log.Printf("Stabilizer: speech sink failed for %q: %v", entry.Word, err)
			}
			return
		}
		s.markSpoken(entry.ID, gen)
	}()
}

// markSpoken flips the spoken flag once playback completed. A callback for
// an entry from before a Clear is a no-op.
func (s *Stabilizer) markSpoken(id string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	for i := range s.history {
		if s.history[i].ID == id {
			s.history[i].Spoken = true
			return
		}
	}
}

// Live returns the currently displayed label, empty when the last
// prediction carried no signal.
func (s *Stabilizer) Live() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// History returns a snapshot of the accepted entries in insertion order.
func (s *Stabilizer) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

// Clear empties the history and resets duplicate suppression, so a
// previously spoken word is spoken again on its next detection. In-flight
// speech is canceled and its completion callback discarded.
func (s *Stabilizer) Clear() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.history = nil
	s.lastWord = ""
	s.live = ""
	s.gen++
	s.mu.Unlock()
}

// Flush waits for in-flight speech goroutines, for orderly shutdown.
func (s *Stabilizer) Flush() {
	s.wg.Wait()
}
