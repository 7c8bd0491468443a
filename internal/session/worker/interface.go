package worker

import (
	"context"

	"github.com/hibiken/asynq"
)

type TeardownWorker interface {
	HandleSessionTeardown(ctx context.Context, task *asynq.Task) error
}
