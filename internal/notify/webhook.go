/*
 * Copyright © 2026 Fabric Testbed Contributors
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookSink posts {"text": summary} to a generic webhook URL (Slack
// incoming-webhook compatible, but also usable for any JSON collector).
type WebhookSink struct {
	client *resty.Client
	url    string
}

// NewWebhookSink returns nil when url is empty.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if url == "" {
		return nil
	}
	c := resty.New().SetTimeout(timeout)
	return &WebhookSink{client: c, url: url}
}

func (w *WebhookSink) Notify(ctx context.Context, summary string) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"text": summary}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("posting webhook to %s: %w", w.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s returned %s", w.url, resp.Status())
	}
	return nil
}
