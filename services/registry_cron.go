package services

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// StartRegistryCron warms the festival registry and keeps it fresh. The
// registry is nearly static during a festival, so a slow refresh is fine.
func StartRegistryCron(s *RegistryService) *cron.Cron {
	refresh := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()
		if err := s.RefreshFestivals(ctx); err != nil {
			log.Printf("registry: refresh failed: %v", err)
			return
		}
		log.Println("registry: festival registry refreshed")
	}

	go refresh()

	c := cron.New()
	if _, err := c.AddFunc("@every 3h", refresh); err != nil {
		log.Printf("registry: scheduling refresh failed: %v", err)
	}
	c.Start()
	return c
}
