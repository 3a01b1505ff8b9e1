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

	"github.com/slack-go/slack"
)

// SlackSink posts the one-line summary as plain text to a configured
// channel using a bot-token client and PostMessageContext.
type SlackSink struct {
	client  *slack.Client
	channel string
}

// NewSlackSink returns nil when botToken or channel is empty, so
// callers can unconditionally pass the result to NewDispatcher.
func NewSlackSink(botToken, channel string) *SlackSink {
	if botToken == "" || channel == "" {
		return nil
	}
	return &SlackSink{client: slack.New(botToken), channel: channel}
}

func (s *SlackSink) Notify(ctx context.Context, summary string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(summary, false))
	if err != nil {
		return fmt.Errorf("posting to slack channel %s: %w", s.channel, err)
	}
	return nil
}
