package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"

	"discowatch/internal/tasks"
)

// AsynqJobClient is a concrete JobClient.
// Enqueues poll cycles of queued watches.
var _ JobClient = (*AsynqJobClient)(nil)

type AsynqJobClient struct {
	client *asynq.Client
	queue  string
	// retention keeps finished cycles visible in the asynq inspector.
	retention time.Duration
}

// NewAsynqJobClient connects to Redis. queue is the asynq queue poll cycles are sent to.
func NewAsynqJobClient(opt asynq.RedisClientOpt, queue string) (*AsynqJobClient, error) {
	if opt.Addr == "" {
		return nil, errors.New("redis address cannot be empty for AsynqJobClient")
	}
	if queue == "" {
		queue = "default"
	}
	cli := asynq.NewClient(opt)
	return &AsynqJobClient{client: cli, queue: queue, retention: time.Hour}, nil
}

func (jc *AsynqJobClient) Close() error {
	return jc.client.Close()
}

// EnqueueStatusCheck enqueues one cycle. The task id is derived from the watch and
// attempt, so enqueueing the same cycle twice yields ErrDuplicate.
func (jc *AsynqJobClient) EnqueueStatusCheck(ctx context.Context, payload tasks.StatusCheckPayload, delay time.Duration) (*asynq.TaskInfo, error) {
	if jc.client == nil {
		return nil, fmt.Errorf("AsynqJobClient internal client is not initialized")
	}
	data, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode status check payload: %w", err)
	}
	task := asynq.NewTask(tasks.TypeStatusCheck, data)

	opts := []asynq.Option{
		asynq.Queue(jc.queue),
		asynq.TaskID(payload.TaskID()),
		asynq.Retention(jc.retention),
		// Each retry is one more failed status request in a row.
		asynq.MaxRetry(payload.MaxConsecutiveErrors),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	fields := log.Fields{
		"watch_id": payload.WatchID,
		"resource": payload.Resource.Key(),
		"attempt":  payload.Attempt,
	}
	info, err := jc.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			log.WithFields(fields).Debug("status check cycle already enqueued")
			return nil, fmt.Errorf("enqueue status check %s: %w", payload.TaskID(), ErrDuplicate)
		}
		return nil, fmt.Errorf("enqueue status check %s: %w", payload.TaskID(), err)
	}
	log.WithFields(fields).WithField("process_in", delay).Debug("enqueued status check cycle")
	return info, nil
}
