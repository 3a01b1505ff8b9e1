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

package transport

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup answers "have I already delivered this message_id": consumers
// must tolerate duplicates and stay idempotent via sequence numbers and
// a message_id de-dup window. Seen both checks and records atomically:
// the first caller for a given id gets false, every later one within
// the window gets true.
type Dedup interface {
	Seen(ctx context.Context, messageID string) (bool, error)
}

// RedisDedup backs the de-dup window with a shared Redis SETNX-with-TTL,
// so every actor instance behind the same Redis sees the same window
// even across process restarts, not merely within one process's memory.
type RedisDedup struct {
	client *redis.Client
	window time.Duration
}

func NewRedisDedup(addr string, window time.Duration) *RedisDedup {
	return &RedisDedup{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		window: window,
	}
}

func (d *RedisDedup) Seen(ctx context.Context, messageID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, "ccf:dedup:"+messageID, "1", d.window).Result()
	if err != nil {
		return false, err
	}
	// SetNX returns true when the key was newly set, i.e. this is the
	// first time we've seen messageID.
	return !ok, nil
}

func (d *RedisDedup) Close() error {
	return d.client.Close()
}

// LRUDedup is the in-process fallback used when no Redis endpoint is
// configured. It evicts both by size and by age so a slow trickle of
// unique ids can't pin memory forever.
type LRUDedup struct {
	mu       sync.Mutex
	window   time.Duration
	maxItems int
	order    *list.List
	index    map[string]*list.Element
}

type lruEntry struct {
	id       string
	deadline time.Time
}

func NewLRUDedup(window time.Duration, maxItems int) *LRUDedup {
	if maxItems <= 0 {
		maxItems = 100_000
	}
	return &LRUDedup{
		window:   window,
		maxItems: maxItems,
		order:    list.New(),
		index:    map[string]*list.Element{},
	}
}

func (d *LRUDedup) Seen(_ context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	d.evictExpiredLocked(now)

	if el, ok := d.index[messageID]; ok {
		if el.Value.(*lruEntry).deadline.After(now) {
			d.order.MoveToFront(el)
			return true, nil
		}
		d.order.Remove(el)
		delete(d.index, messageID)
	}

	for d.order.Len() >= d.maxItems {
		oldest := d.order.Back()
		if oldest == nil {
			break
		}
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(*lruEntry).id)
	}

	el := d.order.PushFront(&lruEntry{id: messageID, deadline: now.Add(d.window)})
	d.index[messageID] = el
	return false, nil
}

func (d *LRUDedup) evictExpiredLocked(now time.Time) {
	for {
		back := d.order.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*lruEntry)
		if entry.deadline.After(now) {
			return
		}
		d.order.Remove(back)
		delete(d.index, entry.id)
	}
}
