// Package services holds background jobs that run alongside the HTTP server.
package services

import (
	"log"
	"time"

	"project/backend/access"
	"project/backend/cache"
)

// ExpirySweeper proactively removes expired course grants on a schedule. The
// per-request lazy expiry check is the primary enforcement path; the sweep is
// the backstop that also catches users who never come back.
type ExpirySweeper struct {
	engine *access.Engine
	grants access.GrantStore
	cache  *cache.Handler
	logger *log.Logger
	now    func() time.Time
	stop   chan struct{}
}

func NewExpirySweeper(engine *access.Engine, grants access.GrantStore, ch *cache.Handler, logger *log.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		engine: engine,
		grants: grants,
		cache:  ch,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called. One sweep runs immediately.
func (s *ExpirySweeper) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	go func() {
		s.Sweep()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (s *ExpirySweeper) Stop() {
	close(s.stop)
}

// Sweep removes every grant whose expiration has passed. Idempotent: grants
// already removed by the lazy check simply no longer match.
func (s *ExpirySweeper) Sweep() {
	expired, err := s.grants.Expired(s.now().Unix())
	if err != nil {
		s.logger.Printf("expiry sweep: query failed: %v", err)
		return
	}

	for _, grant := range expired {
		s.engine.RemoveAccess(grant.UserID, grant.CourseID)
	}
	s.cache.CleanupExpired()

	if len(expired) > 0 {
		s.logger.Printf("expiry sweep: removed %d expired grants", len(expired))
	}
}
