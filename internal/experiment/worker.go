package experiment

import (
	"log"
	"time"
)

// RunExpiryOnce completes active experiments whose end date has passed
// as of now. One pass of the expiry worker.
func (s *Service) RunExpiryOnce(now time.Time) error {
	expired, err := s.store.ListExpired(now)
	if err != nil {
		return err
	}
	for _, cfg := range expired {
		if _, err := s.Complete(cfg.ID); err != nil {
			log.Printf("expiry: failed to complete experiment %s: %v", cfg.ID, err)
			continue
		}
		log.Printf("expiry: completed experiment %s (%s) past its end date", cfg.ID, cfg.Name)
	}
	return nil
}

// StartExpiryWorker launches a background goroutine that completes
// overdue experiments once at startup and then on every tick.
func (s *Service) StartExpiryWorker(interval time.Duration) {
	go func() {
		if err := s.RunExpiryOnce(time.Now()); err != nil {
			log.Printf("expiry check error (startup): %v", err)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for t := range ticker.C {
			if err := s.RunExpiryOnce(t); err != nil {
				log.Printf("expiry check error: %v", err)
			}
		}
	}()
}
