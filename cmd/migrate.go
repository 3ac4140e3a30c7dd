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
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/shelfwise/shelfwise"
	"github.com/shelfwise/shelfwise/database"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func migrateCommands(s *shelfwiseInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run shelfwise database migrations",
	}

	cmd.AddCommand(migrateCommand(s, "up", migrate.Up))
	cmd.AddCommand(migrateCommand(s, "down", migrate.Down))
	return cmd
}

func migrateCommand(s *shelfwiseInstance, use string, direction migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use: use,
		Run: func(cmd *cobra.Command, args []string) {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: shelfwise.SQLFiles,
				Root:       "sql",
			}

			db, err := database.ConnectDB(s.cnf.DataSource.Dns)
			if err != nil {
				logrus.Errorf("error connecting to database: %v", err)
				return
			}
			defer db.Close()

			// the migrations table lives in the schema, so it must exist first
			if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS shelfwise"); err != nil {
				logrus.Errorf("error creating schema: %v", err)
				return
			}
			migrate.SetSchema("shelfwise")
			n, err := migrate.Exec(db, "postgres", migrations, direction)
			if err != nil {
				logrus.Errorf("error migrating %s: %v", use, err)
				return
			}
			fmt.Printf("Applied %d migrations %s!\n", n, use)
		},
	}
}
