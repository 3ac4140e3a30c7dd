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

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT        = "5002"
	DEFAULT_API_VERSION = "2024-07"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"SHELFWISE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"SHELFWISE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"SHELFWISE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"SHELFWISE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"SHELFWISE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"SHELFWISE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SHELFWISE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"SHELFWISE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"SHELFWISE_REDIS_SKIP_TLS_VERIFY"`
}

// Policy is a sliding-window limit: at most Limit requests per WindowSeconds.
type Policy struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}

func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"SHELFWISE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"SHELFWISE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"SHELFWISE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`

	OAuth   Policy `json:"oauth"`
	Webhook Policy `json:"webhook"`
	API     Policy `json:"api"`
	Sync    Policy `json:"sync"`

	OutboundPerSecond float64 `json:"outbound_per_second" envconfig:"SHELFWISE_RATE_LIMIT_OUTBOUND_RPS"`
}

// IntegrationConfig holds the app credentials registered with one commerce platform.
type IntegrationConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scopes       string `json:"scopes"`
	RedirectURL  string `json:"redirect_url"`
	AuthorizeURL string `json:"authorize_url"`
	APIBaseURL   string `json:"api_base_url"`
	APIVersion   string `json:"api_version"`
}

type SecurityConfig struct {
	EncryptionKey string `json:"encryption_key" envconfig:"SHELFWISE_ENCRYPTION_KEY"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type QueueConfig struct {
	HousekeepingQueue string `json:"housekeeping_queue"`
	SyncQueue         string `json:"sync_queue"`
	Concurrency       int    `json:"concurrency" envconfig:"SHELFWISE_QUEUE_CONCURRENCY"`
	SyncSchedule      string `json:"sync_schedule"`
	PruneSchedule     string `json:"prune_schedule"`
}

type RetentionConfig struct {
	SyncLogDays int `json:"sync_log_days" envconfig:"SHELFWISE_RETENTION_SYNC_LOG_DAYS"`
}

type TransferConfig struct {
	AllOrNothing bool `json:"all_or_nothing" envconfig:"SHELFWISE_TRANSFER_ALL_OR_NOTHING"`
}

type LockConfig struct {
	TransferTimeout time.Duration `json:"transfer_timeout"`
	OrderTimeout    time.Duration `json:"order_timeout"`
	WaitTimeout     time.Duration `json:"wait_timeout"`
}

type Configuration struct {
	ProjectName     string                       `json:"project_name" envconfig:"SHELFWISE_PROJECT_NAME"`
	Server          ServerConfig                 `json:"server"`
	DataSource      DataSourceConfig             `json:"data_source"`
	Redis           RedisConfig                  `json:"redis"`
	RateLimit       RateLimitConfig              `json:"rate_limit"`
	Integrations    map[string]IntegrationConfig `json:"integrations"`
	Security        SecurityConfig               `json:"security"`
	Notification    Notification                 `json:"notification"`
	Queue           QueueConfig                  `json:"queue"`
	Retention       RetentionConfig              `json:"retention"`
	Transfer        TransferConfig               `json:"transfer"`
	Lock            LockConfig                   `json:"lock"`
	EnableTelemetry bool                         `json:"enable_telemetry" envconfig:"SHELFWISE_ENABLE_TELEMETRY"`
	EnableMetrics   bool                         `json:"enable_metrics" envconfig:"SHELFWISE_ENABLE_METRICS"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("shelfwise", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called shelfwise.json with your config")
	}
	return c, nil
}

// Integration returns the app credentials for a platform.
func (cnf *Configuration) Integration(platform string) (IntegrationConfig, bool) {
	ic, ok := cnf.Integrations[strings.ToLower(platform)]
	return ic, ok
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Shelfwise"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if key := cnf.Security.EncryptionKey; key != "" && len(key) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.setRateLimitDefaults()

	// platform keys are matched case-insensitively
	if len(cnf.Integrations) > 0 {
		normalized := make(map[string]IntegrationConfig, len(cnf.Integrations))
		for platform, ic := range cnf.Integrations {
			if ic.AuthorizeURL == "" {
				ic.AuthorizeURL = "https://{shop}/admin/oauth/authorize"
			}
			if ic.APIBaseURL == "" {
				ic.APIBaseURL = "https://{shop}"
			}
			if ic.APIVersion == "" {
				ic.APIVersion = DEFAULT_API_VERSION
			}
			normalized[strings.ToLower(platform)] = ic
		}
		cnf.Integrations = normalized
	}

	if cnf.Queue.HousekeepingQueue == "" {
		cnf.Queue.HousekeepingQueue = "housekeeping"
	}
	if cnf.Queue.SyncQueue == "" {
		cnf.Queue.SyncQueue = "integration_sync"
	}
	if cnf.Queue.Concurrency <= 0 {
		cnf.Queue.Concurrency = 10
	}
	if cnf.Queue.SyncSchedule == "" {
		cnf.Queue.SyncSchedule = "@every 15m"
	}
	if cnf.Queue.PruneSchedule == "" {
		cnf.Queue.PruneSchedule = "@daily"
	}

	if cnf.Retention.SyncLogDays <= 0 {
		cnf.Retention.SyncLogDays = 30
		log.Printf("Warning: Sync log retention not specified. Setting default value: %d days", cnf.Retention.SyncLogDays)
	}

	if cnf.Lock.TransferTimeout <= 0 {
		cnf.Lock.TransferTimeout = 30 * time.Second
	}
	if cnf.Lock.OrderTimeout <= 0 {
		cnf.Lock.OrderTimeout = 15 * time.Second
	}
	if cnf.Lock.WaitTimeout <= 0 {
		cnf.Lock.WaitTimeout = 5 * time.Second
	}

	return nil
}

func (cnf *Configuration) setRateLimitDefaults() {
	// Global rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	defaultPolicy(&cnf.RateLimit.OAuth, 10, 60)
	defaultPolicy(&cnf.RateLimit.Webhook, 100, 60)
	defaultPolicy(&cnf.RateLimit.API, 30, 60)
	defaultPolicy(&cnf.RateLimit.Sync, 5, 60)

	if cnf.RateLimit.OutboundPerSecond <= 0 {
		cnf.RateLimit.OutboundPerSecond = 35
	}
}

func defaultPolicy(p *Policy, limit, windowSeconds int) {
	if p.Limit <= 0 {
		p.Limit = limit
	}
	if p.WindowSeconds <= 0 {
		p.WindowSeconds = windowSeconds
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
