package main

import (
	"encoding/json"
	"fmt"

	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/internal/tokenization"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// configCommands prints the computed configuration with secrets masked.
func configCommands(s *shelfwiseInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instance's computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := *s.cnf
			cfg.Server.SecretKey = tokenization.Mask(cfg.Server.SecretKey)
			cfg.Security.EncryptionKey = tokenization.Mask(cfg.Security.EncryptionKey)
			cfg.Integrations = make(map[string]config.IntegrationConfig, len(s.cnf.Integrations))
			for name, ic := range s.cnf.Integrations {
				ic.ClientSecret = tokenization.Mask(ic.ClientSecret)
				cfg.Integrations[name] = ic
			}

			data, err := json.MarshalIndent(cfg, "", "    ")
			if err != nil {
				logrus.Fatalf("error printing config: %v", err)
			}
			fmt.Println(string(data))
		},
	}
	return cmd
}
