package market

import (
	mathrand "math/rand"
	"sync"
)

// SourceState is enough to rebuild a Source at the same stream position.
type SourceState struct {
	Seed  int64  `json:"seed"`
	Draws uint64 `json:"draws"`
}

// Source is a seeded math/rand source that counts every raw value it hands
// out. Each Int63 or Uint64 call advances the underlying generator by one
// step, so replaying Draws steps from Seed lands on the same position.
type Source struct {
	mu    sync.Mutex
	seed  int64
	draws uint64
	src   mathrand.Source64
}

func NewSource(seed int64) *Source {
	return &Source{seed: seed, src: newSource64(seed)}
}

func newSource64(seed int64) mathrand.Source64 {
	return mathrand.NewSource(seed).(mathrand.Source64)
}

func (s *Source) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws++
	return s.src.Int63()
}

func (s *Source) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws++
	return s.src.Uint64()
}

// Seed restarts the stream from seed with a zero draw count.
func (s *Source) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = seed
	s.draws = 0
	s.src = newSource64(seed)
}

func (s *Source) State() SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SourceState{Seed: s.seed, Draws: s.draws}
}

func (s *Source) Restore(st SourceState) {
	src := newSource64(st.Seed)
	for i := uint64(0); i < st.Draws; i++ {
		src.Uint64()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = st.Seed
	s.draws = st.Draws
	s.src = src
}
