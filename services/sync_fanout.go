package services

import (
	"context"
	"log"
	"sync"
	"time"

	"festLogAPI/internal/types/device"
	"festLogAPI/middleware"
)

type SyncPushProvider interface {
	SendSyncPing(ctx context.Context, tokens []device.Token, festivalID string) error
}

// SyncFanout delivers sync pings to a user's other devices through a small
// worker pool, keeping push latency off the request path.
type SyncFanout struct {
	provider SyncPushProvider
	workers  int
	jobQueue chan *fanoutJob
	stopChan chan struct{}
	wg       sync.WaitGroup
}

type fanoutJob struct {
	tokens     []device.Token
	festivalID string
}

func NewSyncFanout(provider SyncPushProvider) *SyncFanout {
	f := &SyncFanout{
		provider: provider,
		workers:  3,
		jobQueue: make(chan *fanoutJob, 100),
		stopChan: make(chan struct{}),
	}
	f.startWorkers()
	return f
}

func (f *SyncFanout) startWorkers() {
	for i := 0; i < f.workers; i++ {
		f.wg.Add(1)
		go f.worker()
	}
}

func (f *SyncFanout) worker() {
	defer f.wg.Done()
	for {
		select {
		case job := <-f.jobQueue:
			f.processJob(job)
		case <-f.stopChan:
			return
		}
	}
}

func (f *SyncFanout) processJob(job *fanoutJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := f.provider.SendSyncPing(ctx, job.tokens, job.festivalID); err != nil {
		log.Printf("Sync ping for festival %s failed: %v", job.festivalID, err)
		return
	}
	middleware.RecordSyncFanout(len(job.tokens))
}

// Enqueue queues a sync ping. Drops the job when the queue stays full,
// since a missed ping only delays the next pull.
func (f *SyncFanout) Enqueue(tokens []device.Token, festivalID string) {
	job := &fanoutJob{tokens: tokens, festivalID: festivalID}
	select {
	case f.jobQueue <- job:
	case <-time.After(5 * time.Second):
		log.Printf("Failed to queue sync ping for festival %s: queue full", festivalID)
	}
}

func (f *SyncFanout) Stop() {
	close(f.stopChan)
	f.wg.Wait()
}
