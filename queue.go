/*
Copyright 2024 Shelfwise Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package shelfwise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shelfwise/shelfwise/config"
	redis_db "github.com/shelfwise/shelfwise/internal/redis-db"
	"github.com/sirupsen/logrus"
)

// Task types.
const (
	TaskPruneSyncLogs = "housekeeping:prune_sync_logs"
	TaskScheduleSync  = "integration:schedule_sync"
	TaskSyncOrders    = "integration:sync_orders"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue submits background tasks to asynq.
type Queue struct {
	client enqueuer
	conf   *config.Configuration
}

type SyncOrdersPayload struct {
	IntegrationID string    `json:"integration_id"`
	Since         time.Time `json:"since,omitempty"`
}

// RedisConnOpt translates the configured Redis DNS for asynq. Only the first address
// of a comma separated list is used.
func RedisConnOpt(conf config.RedisConfig) (asynq.RedisClientOpt, error) {
	first := strings.TrimSpace(strings.Split(conf.Dns, ",")[0])
	redisOption, err := redis_db.ParseRedisURL(first, conf.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Username:  redisOption.Username,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisConnOpt(conf.Redis)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt), conf: conf}, nil
}

func NewSyncOrdersTask(payload SyncOrdersPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncOrders, data), nil
}

// EnqueueSyncOrders schedules an order sync. Syncs for the same integration are
// unique for the sync schedule window so a slow run is not stacked.
func (q *Queue) EnqueueSyncOrders(ctx context.Context, payload SyncOrdersPayload) error {
	task, err := NewSyncOrdersTask(payload)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.conf.Queue.SyncQueue),
		asynq.TaskID("sync_orders:"+payload.IntegrationID),
		asynq.MaxRetry(0),
		asynq.Retention(time.Hour),
	)
	return err
}

// EnqueueScheduledSync enqueues an order sync for every active integration and returns
// how many were enqueued. An integration with a sync already queued is skipped.
func (s *Shelfwise) EnqueueScheduledSync(ctx context.Context) (int, error) {
	if s.queue == nil {
		return 0, errors.New("task queue is not configured")
	}
	integrations, err := s.datasource.ListActiveIntegrations(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, integration := range integrations {
		err := s.queue.EnqueueSyncOrders(ctx, SyncOrdersPayload{IntegrationID: integration.ID})
		switch {
		case err == nil:
			enqueued++
		case errors.Is(err, asynq.ErrTaskIDConflict):
			s.logger.WithField("integration_id", integration.ID).Debug("order sync already queued")
		default:
			return enqueued, err
		}
	}
	return enqueued, nil
}

// HandleSyncOrdersTask runs a scheduled sync. Failures are already in the sync log and
// the next schedule retries, so the task itself is never retried.
func (s *Shelfwise) HandleSyncOrdersTask(ctx context.Context, t *asynq.Task) error {
	var payload SyncOrdersPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskSyncOrders, err, asynq.SkipRetry)
	}
	if _, err := s.SyncOrders(ctx, payload.IntegrationID, "", payload.Since, "scheduler"); err != nil {
		return fmt.Errorf("sync orders for %s: %v: %w", payload.IntegrationID, err, asynq.SkipRetry)
	}
	return nil
}

func (s *Shelfwise) HandleScheduleSyncTask(ctx context.Context, _ *asynq.Task) error {
	n, err := s.EnqueueScheduledSync(ctx)
	s.logger.WithField("enqueued", n).Info("scheduled order syncs")
	return err
}

func (s *Shelfwise) HandlePruneSyncLogsTask(ctx context.Context, _ *asynq.Task) error {
	_, err := s.PruneSyncLogs(ctx, 0)
	return err
}

// RegisterTaskHandlers wires every task type onto mux.
func (s *Shelfwise) RegisterTaskHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskSyncOrders, s.HandleSyncOrdersTask)
	mux.HandleFunc(TaskScheduleSync, s.HandleScheduleSyncTask)
	mux.HandleFunc(TaskPruneSyncLogs, s.HandlePruneSyncLogsTask)
}

// RegisterPeriodicTasks adds the housekeeping and sync fan-out schedules.
func RegisterPeriodicTasks(scheduler *asynq.Scheduler, conf *config.Configuration) error {
	entries := []struct {
		spec  string
		task  *asynq.Task
		queue string
	}{
		{conf.Queue.PruneSchedule, asynq.NewTask(TaskPruneSyncLogs, nil), conf.Queue.HousekeepingQueue},
		{conf.Queue.SyncSchedule, asynq.NewTask(TaskScheduleSync, nil), conf.Queue.HousekeepingQueue},
	}
	for _, e := range entries {
		id, err := scheduler.Register(e.spec, e.task, asynq.Queue(e.queue), asynq.MaxRetry(1))
		if err != nil {
			return fmt.Errorf("register %s: %w", e.task.Type(), err)
		}
		logrus.WithFields(logrus.Fields{"task": e.task.Type(), "spec": e.spec, "entry_id": id}).Info("registered periodic task")
	}
	return nil
}
