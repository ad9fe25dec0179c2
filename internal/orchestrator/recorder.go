package orchestrator

import (
	"sync"

	"github.com/PaulM5406/pytest-difftest/internal/logging"
	"github.com/PaulM5406/pytest-difftest/internal/store"
)

// Recorder buffers post-run test executions and commits them in batches of
// batchSize, amortizing write-transaction overhead. It is safe
// for concurrent use by multiple result-reporting goroutines.
type Recorder struct {
	mu        sync.Mutex
	store     *store.Store
	batchSize int
	pending   []store.PendingExecution
}

// NewRecorder creates a Recorder over s, flushing every batchSize buffered
// executions.
func NewRecorder(s *store.Store, batchSize int) *Recorder {
	if batchSize <= 0 {
		batchSize = 20
	}

	return &Recorder{store: s, batchSize: batchSize}
}

// Record buffers one test execution, flushing immediately once the buffer
// reaches batchSize.
func (r *Recorder) Record(exec store.PendingExecution) error {
	r.mu.Lock()
	r.pending = append(r.pending, exec)
	full := len(r.pending) >= r.batchSize
	r.mu.Unlock()

	if full {
		return r.Flush()
	}

	return nil
}

// Flush commits every buffered execution in one transaction.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if _, err := r.store.SaveTestExecutionsBatch(batch); err != nil {
		return err
	}

	logging.OrchestratorDebug("flushed %d buffered execution(s)", len(batch))

	return nil
}
