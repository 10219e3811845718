package database

import (
	"context"
	"sync"
	"time"

	"github.com/session-foundation/session-desktop-sub001/internal/observability"

	"gorm.io/gorm"
)

// VacuumTrigger tells what started an incremental vacuum run. A user-activity
// run is paused as soon as the window regains focus; a periodic run is not, so
// heavily used databases are guaranteed progress.
type VacuumTrigger string

const (
	// TriggerPeriodic is the always-run reclamation for long-focused sessions.
	TriggerPeriodic VacuumTrigger = "periodic"
	// TriggerUserActivity is the reclamation started after the window blurred.
	TriggerUserActivity VacuumTrigger = "user-activity"
)

// VacuumOptions tunes the incremental reclamation.
type VacuumOptions struct {
	PagesPerChunk int
	MinFreePages  int
	ChunkInterval time.Duration
	PeriodicEvery time.Duration
	BlurDebounce  time.Duration
}

// DefaultVacuumOptions mirror what works well on large production stores.
func DefaultVacuumOptions() VacuumOptions {
	return VacuumOptions{
		PagesPerChunk: 500,
		MinFreePages:  500,
		ChunkInterval: time.Second,
		PeriodicEvery: 30 * time.Minute,
		BlurDebounce:  5 * time.Second,
	}
}

// VacuumManager reclaims free pages in small bounded chunks so the store never
// blocks reads or writes for an unbounded time. A full VACUUM on a large
// database can take tens of seconds, which is why it is never used after the
// initial mode switch.
type VacuumManager struct {
	db   *gorm.DB
	opts VacuumOptions
	log  *observability.SchedulerLogger

	mu        sync.Mutex
	focused   bool
	blurTimer *time.Timer
	trigger   VacuumTrigger
	stopRun   chan struct{}
	closed    bool

	periodicStop chan struct{}
	wg           sync.WaitGroup
}

// NewVacuumManager returns a manager and starts its periodic trigger.
func NewVacuumManager(db *gorm.DB, opts VacuumOptions) *VacuumManager {
	m := &VacuumManager{
		db:           db,
		opts:         opts,
		log:          observability.NewSchedulerLogger("vacuum"),
		focused:      true,
		periodicStop: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.periodicLoop()
	return m
}

// NotifyBlurred is called by the windowing glue when the application window
// loses focus. After a short debounce, a reclamation run starts if needed.
func (m *VacuumManager) NotifyBlurred() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.focused = false
	if m.blurTimer != nil {
		m.blurTimer.Stop()
	}
	m.blurTimer = time.AfterFunc(m.opts.BlurDebounce, func() {
		// Still blurred when this fires; a focus event would have stopped it.
		if m.freePages() >= m.opts.MinFreePages {
			m.startRun(TriggerUserActivity)
		}
	})
}

// NotifyFocused is called when the window regains focus. It cancels a pending
// blur trigger; a user-activity run in progress notices the flag on its next
// chunk and pauses.
func (m *VacuumManager) NotifyFocused() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focused = true
	if m.blurTimer != nil {
		m.blurTimer.Stop()
		m.blurTimer = nil
	}
}

// Close stops the periodic trigger and any run in progress, waiting for the
// in-flight chunk to finish rather than interrupting it mid-transaction.
func (m *VacuumManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.periodicStop)
	if m.blurTimer != nil {
		m.blurTimer.Stop()
		m.blurTimer = nil
	}
	m.stopRunLocked()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *VacuumManager) periodicLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.PeriodicEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.periodicStop:
			return
		case <-ticker.C:
			if m.freePages() >= m.opts.MinFreePages {
				m.startRun(TriggerPeriodic)
			}
		}
	}
}

func (m *VacuumManager) startRun(trigger VacuumTrigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.stopRun != nil {
		return
	}
	stop := make(chan struct{})
	m.stopRun = stop
	m.trigger = trigger
	m.log.LogEvent(context.Background(), "vacuum started",
		map[string]interface{}{"trigger": string(trigger)})

	m.wg.Add(1)
	go m.runChunks(trigger, stop)
}

func (m *VacuumManager) runChunks(trigger VacuumTrigger, stop chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.ChunkInterval)
	defer ticker.Stop()

	totalPages := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if trigger == TriggerUserActivity && m.isFocused() {
				m.log.LogEvent(context.Background(), "user became active, pausing vacuum",
					map[string]interface{}{"pages_vacuumed": totalPages})
				m.finishRun(stop)
				return
			}

			free := m.freePages()
			if free == 0 {
				m.log.LogEvent(context.Background(), "vacuum done, no free pages left",
					map[string]interface{}{"pages_vacuumed": totalPages})
				m.finishRun(stop)
				return
			}

			count := m.opts.PagesPerChunk
			if free < count {
				count = free
			}
			start := time.Now()
			if err := m.db.Exec("PRAGMA incremental_vacuum(?)", count).Error; err != nil {
				m.log.LogError(context.Background(), "incremental vacuum chunk", err)
				m.finishRun(stop)
				return
			}
			totalPages += count
			observability.VacuumPagesTotal.Add(float64(count))
			m.log.LogEvent(context.Background(), "vacuum chunk",
				map[string]interface{}{
					"pages":      count,
					"elapsed_ms": time.Since(start).Milliseconds(),
					"remaining":  m.freePages(),
				})
		}
	}
}

// finishRun clears the run slot if it still points at this run's stop channel.
func (m *VacuumManager) finishRun(stop chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopRun == stop {
		m.stopRun = nil
		m.trigger = ""
	}
}

func (m *VacuumManager) stopRunLocked() {
	if m.stopRun != nil {
		close(m.stopRun)
		m.stopRun = nil
		m.trigger = ""
	}
}

func (m *VacuumManager) isFocused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focused
}

func (m *VacuumManager) freePages() int {
	var pages int
	if err := m.db.Raw("PRAGMA freelist_count").Scan(&pages).Error; err != nil {
		m.log.LogError(context.Background(), "freelist_count", err)
		return 0
	}
	return pages
}
