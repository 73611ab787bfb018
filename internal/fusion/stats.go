package fusion

import (
	"fmt"
	"sync"
	"time"

	"github.com/wyvern-data/surface.report/internal/monitoring"
)

// CycleStats tracks fusion cycle statistics with thread-safe operations.
type CycleStats struct {
	mu            sync.Mutex
	cycles        int64
	skipped       int64
	defects       int64
	updates       int64
	detectErrors  int64
	persistErrors int64
	lastReset     time.Time

	totalCycles  int64
	totalDefects int64
}

// NewCycleStats creates a new CycleStats instance.
func NewCycleStats() *CycleStats {
	return &CycleStats{
		lastReset: time.Now(),
	}
}

// AddCycle records one completed cycle with its track counts.
func (cs *CycleStats) AddCycle(newDefects, updates int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.cycles++
	cs.totalCycles++
	cs.defects += int64(newDefects)
	cs.totalDefects += int64(newDefects)
	cs.updates += int64(updates)
}

// AddSkipped records a cycle that ran with no frame available.
func (cs *CycleStats) AddSkipped() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.skipped++
}

// AddDetectError records a failed detector call.
func (cs *CycleStats) AddDetectError() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.detectErrors++
}

// AddPersistError records a failed defect insert.
func (cs *CycleStats) AddPersistError() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.persistErrors++
}

// Totals reports the lifetime cycle and new-defect counts. These never
// reset, so the health endpoint can show them.
func (cs *CycleStats) Totals() (cycles, defects int64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.totalCycles, cs.totalDefects
}

// GetAndReset returns current stats and resets the periodic counters.
func (cs *CycleStats) GetAndReset() (cycles, skipped, defects, updates, detectErrors, persistErrors int64, duration time.Duration) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := time.Now()
	duration = now.Sub(cs.lastReset)
	cycles = cs.cycles
	skipped = cs.skipped
	defects = cs.defects
	updates = cs.updates
	detectErrors = cs.detectErrors
	persistErrors = cs.persistErrors

	cs.cycles = 0
	cs.skipped = 0
	cs.defects = 0
	cs.updates = 0
	cs.detectErrors = 0
	cs.persistErrors = 0
	cs.lastReset = now

	return
}

// LogStats logs fusion rates since the last reset.
func (cs *CycleStats) LogStats() {
	cycles, skipped, defects, updates, detectErrors, persistErrors, duration := cs.GetAndReset()
	if cycles == 0 && skipped == 0 {
		return
	}

	cyclesPerSec := float64(cycles) / duration.Seconds()
	logMsg := fmt.Sprintf("Fusion stats: %.1f cycles/sec, %d new defects, %d track updates",
		cyclesPerSec, defects, updates)
	if skipped > 0 {
		logMsg += fmt.Sprintf(", %d cycles without a frame", skipped)
	}
	if detectErrors > 0 {
		logMsg += fmt.Sprintf(", %d detector errors", detectErrors)
	}
	if persistErrors > 0 {
		logMsg += fmt.Sprintf(", %d persist errors", persistErrors)
	}
	monitoring.Logf("%s", logMsg)
}
