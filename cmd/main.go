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
	"log"
	"os"

	"github.com/shelfwise/shelfwise"
	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/database"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Shelfwise is the CLI application, wrapping the root Cobra command.
type Shelfwise struct {
	cmd *cobra.Command
}

// shelfwiseInstance holds the service and its configuration for the subcommands.
type shelfwiseInstance struct {
	shelfwise *shelfwise.Shelfwise
	cnf       *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the service before any command runs.
func preRun(app *shelfwiseInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		// migrations only need the database
		if cmd.HasParent() && cmd.Parent().Name() == "migrate" || cmd.Name() == "config" {
			app.cnf = cnf
			return nil
		}

		s, err := setupShelfwise(cnf)
		if err != nil {
			log.Fatal(err)
		}
		app.shelfwise = s
		app.cnf = cnf
		return nil
	}
}

func setupShelfwise(cfg *config.Configuration) (*shelfwise.Shelfwise, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	s, err := shelfwise.NewShelfwise(db)
	if err != nil {
		return nil, fmt.Errorf("error creating shelfwise: %v", err)
	}
	return s, nil
}

func NewCLI() *Shelfwise {
	var configFile string
	s := &shelfwiseInstance{}

	var rootCmd = &cobra.Command{
		Use:   "shelfwise",
		Short: "Inventory ledger and commerce platform sync",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./shelfwise.json", "Configuration file for shelfwise")
	rootCmd.PersistentPreRunE = preRun(s, &configFile)

	rootCmd.AddCommand(serverCommands(s))
	rootCmd.AddCommand(workerCommands(s))
	rootCmd.AddCommand(migrateCommands(s))
	rootCmd.AddCommand(configCommands(s))

	return &Shelfwise{cmd: rootCmd}
}

func (w Shelfwise) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
