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

package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fabric-testbed/control-core/internal/kernel"
	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/policy"
	"github.com/fabric-testbed/control-core/internal/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noOpRole struct{}

func (noOpRole) TickHandler(ctx context.Context, cycle int) error { return nil }
func (noOpRole) ProbePendingOperations(ctx context.Context) error { return nil }
func (noOpRole) HasPendingReservations() bool                     { return false }
func (noOpRole) DeferredOps(ctx context.Context) error            { return nil }

type fakeEngine struct {
	pending       int
	hasPendingRes bool
}

func (f *fakeEngine) PendingCount() int            { return f.pending }
func (f *fakeEngine) HasPendingReservations() bool { return f.hasPendingRes }
func (f *fakeEngine) ResourceCounts() *model.ResourceCount {
	c := model.NewResourceCount()
	c.Active["compute"] = f.pending
	return c
}

func newTestActorView(t *testing.T, name string) ActorView {
	t.Helper()
	a, err := kernel.NewActor(context.Background(), name, policy.NoOpHooks{}, noOpRole{}, 16)
	require.NoError(t, err)
	return ActorView{Name: name, Actor: a, Engine: &fakeEngine{pending: 2, hasPendingRes: true}}
}

func TestHealthzReportsEachActor(t *testing.T) {
	reg := proxy.NewRegistry()
	view := newTestActorView(t, "broker-1")
	srv := New(reg, 0, view)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Actors, 1)
	assert.Equal(t, "broker-1", body.Actors[0].Name)
	assert.Equal(t, 2, body.Actors[0].PendingCount)
	assert.True(t, body.Actors[0].HasPendingOps)
}

func TestRegistryEndpointListsRegisteredPeers(t *testing.T) {
	reg := proxy.NewRegistry()
	reg.Register("authority-1", proxy.NewLocal("authority-1", nil))
	srv := New(reg, 0)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/registry")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["peers"], "authority-1")
}

func TestActorsEndpointListsPendingCounts(t *testing.T) {
	reg := proxy.NewRegistry()
	view := newTestActorView(t, "orchestrator-1")
	srv := New(reg, 0, view)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/actors")
	require.NoError(t, err)
	defer resp.Body.Close()

	var rows []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "orchestrator-1", rows[0]["name"])
}
