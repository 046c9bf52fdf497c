package research

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrSessionNotFound is returned for unknown or already-evicted session ids.
var ErrSessionNotFound = errors.New("research session not found")

// Default session lifetimes. Idle sessions are swept after IdleTTL;
// completed sessions linger CompletedTTL so the model can still read results.
const (
	IdleTTL       = 30 * time.Minute
	CompletedTTL  = 5 * time.Minute
	SweepInterval = 5 * time.Minute
)

// Repository stores research sessions between phase calls.
type Repository interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// Sweep evicts expired sessions and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryRepository keeps sessions in a process-local map. Suitable for
// single-instance deployments and tests; use RedisRepository when sessions
// must survive restarts.
type MemoryRepository struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	idleTTL      time.Duration
	completedTTL time.Duration
}

func NewMemoryRepository(idleTTL, completedTTL time.Duration) *MemoryRepository {
	if idleTTL <= 0 {
		idleTTL = IdleTTL
	}
	if completedTTL <= 0 {
		completedTTL = CompletedTTL
	}
	return &MemoryRepository{
		sessions:     make(map[string]*Session),
		idleTTL:      idleTTL,
		completedTTL: completedTTL,
	}
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (r *MemoryRepository) Put(_ context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRepository) Sweep(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		ttl := r.idleTTL
		if s.Phase == PhaseCompleted {
			ttl = r.completedTTL
		}
		if now.Sub(s.LastUpdated) > ttl {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Sweeper periodically evicts expired sessions from a repository. Owned by
// the server lifecycle: started on init, stopped on shutdown.
type Sweeper struct {
	repo     Repository
	interval time.Duration
	logger   *log.Logger
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(repo Repository, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = SweepInterval
	}
	return &Sweeper{
		repo:     repo,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *Sweeper) Start() {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case now := <-ticker.C:
				n, err := w.repo.Sweep(context.Background(), now)
				if err != nil {
					w.logger.Printf("sweep failed: %v", err)
					continue
				}
				if n > 0 {
					w.logger.Printf("evicted %d expired research session(s)", n)
				}
			}
		}
	}()
}

func (w *Sweeper) Stop() {
	close(w.stop)
	<-w.done
}
