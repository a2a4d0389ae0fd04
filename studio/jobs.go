package studio

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mostlygeek/genstudio/backend"
)

const (
	jobRetention     = 1 * time.Hour
	jobCleanupPeriod = 10 * time.Minute
)

type JobRecord struct {
	Handle  backend.JobHandle `json:"handle"`
	Updated time.Time         `json:"updated"`
}

// JobRegistry remembers the latest handle of recently seen jobs. Nothing
// is persisted; records expire after the retention period.
type JobRegistry struct {
	mu        sync.RWMutex
	jobs      map[string]*JobRecord
	retention time.Duration
	now       func() time.Time
}

func NewJobRegistry(retention time.Duration) *JobRegistry {
	if retention <= 0 {
		retention = jobRetention
	}
	return &JobRegistry{
		jobs:      make(map[string]*JobRecord),
		retention: retention,
		now:       time.Now,
	}
}

func jobKey(slug, id string) string {
	return slug + "/" + id
}

// Observe records h as the latest state of its job.
func (r *JobRegistry) Observe(h backend.JobHandle) {
	if h.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := jobKey(h.Slug, h.ID)
	record, exists := r.jobs[key]
	if !exists {
		record = &JobRecord{}
		r.jobs[key] = record
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = record.Handle.CreatedAt
	}
	record.Handle = h
	record.Updated = r.now()
}

func (r *JobRegistry) Get(slug, id string) (JobRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if record, exists := r.jobs[jobKey(slug, id)]; exists {
		return *record, true
	}
	return JobRecord{}, false
}

// List returns the records, most recently updated first.
func (r *JobRegistry) List() []JobRecord {
	r.mu.RLock()
	records := make([]JobRecord, 0, len(r.jobs))
	for _, record := range r.jobs {
		records = append(records, *record)
	}
	r.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if !records[i].Updated.Equal(records[j].Updated) {
			return records[i].Updated.After(records[j].Updated)
		}
		return jobKey(records[i].Handle.Slug, records[i].Handle.ID) < jobKey(records[j].Handle.Slug, records[j].Handle.ID)
	})
	return records
}

func (r *JobRegistry) prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for key, record := range r.jobs {
		if now.Sub(record.Updated) > r.retention {
			delete(r.jobs, key)
			removed++
		}
	}
	return removed
}

// Run prunes expired records every period until ctx is done.
func (r *JobRegistry) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune()
		}
	}
}

func (pm *Manager) apiListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, pm.jobs.List())
}
