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

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/shelfwise/shelfwise"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// initializeQueues weights integration syncs above housekeeping.
func initializeQueues(s *shelfwiseInstance) map[string]int {
	return map[string]int{
		s.cnf.Queue.SyncQueue:         3,
		s.cnf.Queue.HousekeepingQueue: 1,
	}
}

func initializeWorkerServer(s *shelfwiseInstance) (*asynq.Server, error) {
	opt, err := shelfwise.RedisConnOpt(s.cnf.Redis)
	if err != nil {
		return nil, err
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: s.cnf.Queue.Concurrency,
		Queues:      initializeQueues(s),
		Logger:      logrus.WithField("component", "asynq"),
	}), nil
}

func initializeScheduler(s *shelfwiseInstance) (*asynq.Scheduler, error) {
	opt, err := shelfwise.RedisConnOpt(s.cnf.Redis)
	if err != nil {
		return nil, err
	}
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Logger: logrus.WithField("component", "asynq-scheduler"),
	})
	if err := shelfwise.RegisterPeriodicTasks(scheduler, s.cnf); err != nil {
		return nil, err
	}
	return scheduler, nil
}

// workerCommands runs the background workers: scheduled order syncs and sync log
// pruning. The scheduler enqueues on its cron specs and the server executes.
func workerCommands(s *shelfwiseInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start shelfwise workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown, err := initializeTracing(ctx, s.cnf)
			if err != nil {
				logrus.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logrus.WithError(err).Error("error during tracer shutdown")
				}
			}()

			srv, err := initializeWorkerServer(s)
			if err != nil {
				logrus.Fatal(err)
			}
			scheduler, err := initializeScheduler(s)
			if err != nil {
				logrus.Fatal(err)
			}

			mux := asynq.NewServeMux()
			s.shelfwise.RegisterTaskHandlers(mux)

			if err := scheduler.Start(); err != nil {
				logrus.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			if err := srv.Start(mux); err != nil {
				logrus.Fatalf("could not run worker server: %v", err)
			}
			<-ctx.Done()
			srv.Shutdown()
		},
	}
	return cmd
}
