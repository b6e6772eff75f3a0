package runloop

import (
	"time"

	"github.com/basket/goclaw-runloop/internal/task"
)

// Timer is the subset of internal/timer.Timer (and CronTimer) the kernel
// needs. Kept as an interface here so the kernel does not care which
// concrete timer implementation produced the fire schedule.
type Timer interface {
	ID() string
	TaskType() string
	Priority() task.Priority
	IsCancelled() bool
	DueAt(now time.Time) bool
	NextFireAt() time.Time
}
