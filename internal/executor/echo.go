package executor

import (
	"context"
	"log/slog"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// TaskLogEcho logs the task and succeeds.
const TaskLogEcho = "log.echo"

// LogEcho returns an executor that only logs.
func LogEcho(logger *slog.Logger) core.Executor {
	return core.ExecutorFunc(func(ctx context.Context, task core.Task) error {
		logger.InfoContext(ctx, "task executed",
			"task", task.Name,
			"job_id", task.JobID,
			"attempt", task.Attempt,
			"params", string(task.Params),
		)
		return nil
	})
}
