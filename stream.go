package penguiflow

import "sync"

// StreamChunk is a unit of streamed output: ordered, monotonically
// sequenced per StreamID, with a terminal Done marker.
type StreamChunk struct {
	StreamID string
	Seq      int
	Text     string
	Bytes    []byte
	Done     bool
}

// streamSequencer assigns monotonic, gapless per-stream sequence numbers
// and resets the counter to zero once a stream completes. It is the
// runtime-wide single source of truth for chunk ordering; every Context
// created for a given Flow shares one sequencer so that interleaved
// producers across traces never collide on the same StreamID's counter.
type streamSequencer struct {
	mu      sync.Mutex
	counter map[string]int
}

func newStreamSequencer() *streamSequencer {
	return &streamSequencer{counter: make(map[string]int)}
}

// next atomically reads-and-increments the counter for streamID, returning
// the sequence number to stamp on this chunk. When done is true the
// counter is removed so the next emission on the same streamID restarts at
// zero.
func (s *streamSequencer) next(streamID string, done bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.counter[streamID]
	if done {
		delete(s.counter, streamID)
	} else {
		s.counter[streamID] = seq + 1
	}
	return seq
}
