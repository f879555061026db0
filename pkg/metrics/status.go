package metrics

import (
	"sync"
	"time"
)

// Stage names reported by Status
const (
	StageIdle      = "idle"
	StageLoading   = "loading"
	StageComputing = "computing"
	StageAggregate = "aggregating"
	StageDone      = "done"
	StageFailed    = "failed"
)

// StatusSnapshot is the JSON body of /status
type StatusSnapshot struct {
	RunID       string    `json:"run_id,omitempty"`
	Stage       string    `json:"stage"`
	ChunksDone  int       `json:"chunks_done"`
	ChunksTotal int       `json:"chunks_total"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Status tracks where a run is. The zero value is ready to use.
type Status struct {
	mu   sync.Mutex
	snap StatusSnapshot
}

func (s *Status) update(fn func(*StatusSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	s.snap.UpdatedAt = time.Now().UTC()
}

func (s *Status) SetStage(stage string) {
	s.update(func(sn *StatusSnapshot) { sn.Stage = stage })
}

func (s *Status) SetRunID(id string) {
	s.update(func(sn *StatusSnapshot) { sn.RunID = id })
}

// Progress records finished chunks; it matches the runner's progress callback
func (s *Status) Progress(done, total int) {
	s.update(func(sn *StatusSnapshot) {
		sn.Stage = StageComputing
		sn.ChunksDone = done
		sn.ChunksTotal = total
	})
}

func (s *Status) Fail(err error) {
	s.update(func(sn *StatusSnapshot) {
		sn.Stage = StageFailed
		sn.Error = err.Error()
	})
}

func (s *Status) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	if snap.Stage == "" {
		snap.Stage = StageIdle
	}
	return snap
}
