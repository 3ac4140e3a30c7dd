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

package notification

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shelfwise/shelfwise/config"
	"github.com/shelfwise/shelfwise/internal/request"
	"github.com/sirupsen/logrus"
)

// Event names sent to the operator channel.
const (
	EventReleaseClamped      = "reservation.release_clamped"
	EventWebhookFailed       = "webhook.failed"
	EventCompensationFailed  = "transfer.compensation_failed"
	EventSyncFailed          = "integration.sync_failed"
	EventIntegrationDisabled = "integration.deactivated"
)

// Notifier fans operator alerts out to Slack and a generic webhook. Delivery is
// asynchronous and best effort; failures are logged only.
type Notifier struct {
	slackURL   string
	webhookURL string
	headers    map[string]string
	client     *http.Client
	logger     *logrus.Entry
	wg         sync.WaitGroup
}

func New(conf config.Notification) *Notifier {
	return &Notifier{
		slackURL:   conf.Slack.WebhookUrl,
		webhookURL: conf.Webhook.Url,
		headers:    conf.Webhook.Headers,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logrus.WithField("component", "notification"),
	}
}

// Notify logs the alert and, when a channel is configured, delivers it in the background.
// A nil Notifier only logs.
func (n *Notifier) Notify(event string, details map[string]interface{}) {
	logger := logrus.WithField("component", "notification")
	if n != nil {
		logger = n.logger
	}
	logger.WithFields(logrus.Fields(details)).WithField("event", event).Warn("operator notification")

	if n == nil || (n.slackURL == "" && n.webhookURL == "") {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		n.deliver(ctx, event, details, time.Now())
	}()
}

// NotifyError reports an unexpected system error.
func (n *Notifier) NotifyError(err error) {
	if err == nil {
		return
	}
	n.Notify("system.error", map[string]interface{}{"error": err.Error()})
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

func (n *Notifier) deliver(ctx context.Context, event string, details map[string]interface{}, at time.Time) {
	if n.slackURL != "" {
		if err := n.post(ctx, n.slackURL, slackMessage(event, details, at), nil); err != nil {
			n.logger.WithError(err).Error("slack notification failed")
		}
	}
	if n.webhookURL != "" {
		payload := map[string]interface{}{
			"event":   event,
			"data":    details,
			"sent_at": at.UTC().Format(time.RFC3339),
		}
		if err := n.post(ctx, n.webhookURL, payload, n.headers); err != nil {
			n.logger.WithError(err).Error("webhook notification failed")
		}
	}
}

func (n *Notifier) post(ctx context.Context, url string, payload interface{}, headers map[string]string) error {
	body, err := request.ToJsonReq(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	_, err = request.Call(n.client, req, nil)
	return err
}

func slackMessage(event string, details map[string]interface{}, at time.Time) map[string]interface{} {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("*%s:* %v", k, details[k]))
	}

	return map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]interface{}{"type": "plain_text", "text": "Shelfwise: " + event, "emoji": true},
			},
			{
				"type": "section",
				"text": map[string]interface{}{"type": "mrkdwn", "text": strings.Join(lines, "\n")},
			},
			{
				"type": "context",
				"elements": []map[string]interface{}{
					{"type": "mrkdwn", "text": at.Format(time.RFC822)},
				},
			},
		},
	}
}
