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
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueScheduledSync(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a := seedIntegration(t, env, "owner-1", "loc-1")
	b := seedIntegration(t, env, "owner-2", "loc-1")
	inactive := seedIntegration(t, env, "owner-3", "loc-1")
	require.NoError(t, env.ds.SetIntegrationActive(ctx, inactive.ID, false))

	env.enqueuer.conflict = map[string]bool{b.ID: true}

	n, err := env.s.EnqueueScheduledSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, env.enqueuer.tasks, 1)
	task := env.enqueuer.tasks[0]
	assert.Equal(t, TaskSyncOrders, task.Type())

	var payload SyncOrdersPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, a.ID, payload.IntegrationID)
}

func TestEnqueueScheduledSync_WithoutQueue(t *testing.T) {
	env := newTestEnv(t, nil)
	env.s.queue = nil
	_, err := env.s.EnqueueScheduledSync(context.Background())
	assert.Error(t, err)
}

func TestHandleSyncOrdersTask(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1", "SKU-A")
	seedStock(t, env.s, "prod-SKU-A", "loc-1", 5)
	env.platform.orders = append(env.platform.orders, *platformOrder(t, 8001, map[string]int64{"SKU-A": 2}, nil))

	task, err := NewSyncOrdersTask(SyncOrdersPayload{IntegrationID: integration.ID})
	require.NoError(t, err)
	require.NoError(t, env.s.HandleSyncOrdersTask(ctx, task))

	logs, err := env.s.ListSyncLogs(ctx, integration.ID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "scheduler", logs[0].TriggeredBy)
	assert.Equal(t, int64(2), record(t, env.s, "prod-SKU-A", "loc-1").QtyReserved)
}

func TestHandleSyncOrdersTask_FailuresAreNotRetried(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	err := env.s.HandleSyncOrdersTask(ctx, asynq.NewTask(TaskSyncOrders, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	task, err := NewSyncOrdersTask(SyncOrdersPayload{IntegrationID: "int_missing"})
	require.NoError(t, err)
	err = env.s.HandleSyncOrdersTask(ctx, task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleScheduleSyncTask(t *testing.T) {
	env := newTestEnv(t, nil)
	seedIntegration(t, env, "owner-1", "loc-1")
	require.NoError(t, env.s.HandleScheduleSyncTask(context.Background(), asynq.NewTask(TaskScheduleSync, nil)))
	assert.Len(t, env.enqueuer.tasks, 1)
}

func TestHandlePruneSyncLogsTask(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	integration := seedIntegration(t, env, "owner-1", "loc-1")
	require.NoError(t, env.ds.RecordSyncLog(ctx, &model.IntegrationSyncLog{
		ID:            model.GenerateUUIDWithSuffix("syn"),
		IntegrationID: integration.ID,
		CreatedAt:     time.Now().Add(-90 * 24 * time.Hour),
	}))

	require.NoError(t, env.s.HandlePruneSyncLogsTask(ctx, asynq.NewTask(TaskPruneSyncLogs, nil)))
	logs, err := env.s.ListSyncLogs(ctx, integration.ID, "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRegisterTaskHandlers(t *testing.T) {
	env := newTestEnv(t, nil)
	mux := asynq.NewServeMux()
	env.s.RegisterTaskHandlers(mux)

	for _, taskType := range []string{TaskSyncOrders, TaskScheduleSync, TaskPruneSyncLogs} {
		_, pattern := mux.Handler(asynq.NewTask(taskType, nil))
		assert.Equal(t, taskType, pattern)
	}
}

func TestRegisterPeriodicTasks(t *testing.T) {
	env := newTestEnv(t, nil)
	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: env.redis.Addr()}, nil)
	require.NoError(t, RegisterPeriodicTasks(scheduler, env.s.conf))

	bad := *env.s.conf
	bad.Queue.PruneSchedule = "every now and then"
	assert.Error(t, RegisterPeriodicTasks(scheduler, &bad))
}

func TestRedisConnOpt(t *testing.T) {
	opt, err := RedisConnOpt(config.RedisConfig{Dns: "redis://:secret@cache-1:6380/2, cache-2:6379"})
	require.NoError(t, err)
	assert.Equal(t, "cache-1:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)

	opt, err = RedisConnOpt(config.RedisConfig{Dns: "localhost:6379"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opt.Addr)
}
