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

// Package diagnostics serves a small read-only HTTP surface: actor
// health, pending-operation counts, and registry contents. This is not
// a negotiation API — it carries no Ticket/Redeem/Close endpoints, only
// operability.
package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fabric-testbed/control-core/internal/kernel"
	"github.com/fabric-testbed/control-core/internal/model"
	"github.com/fabric-testbed/control-core/internal/proxy"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
)

// EngineStatus is the narrow view diagnostics needs from an
// internal/protocol.Engine, kept as an interface so this package does
// not need to import protocol (which already imports reservation,
// crypto, policy — diagnostics should stay a leaf).
type EngineStatus interface {
	PendingCount() int
	HasPendingReservations() bool
	ResourceCounts() *model.ResourceCount
}

// ActorView bundles one actor's kernel and engine for the /actors
// endpoint.
type ActorView struct {
	Name   string
	Actor  *kernel.Actor
	Engine EngineStatus
}

// Server is the diagnostics HTTP surface for one actord process. It may
// report on more than one actor when several roles are colocated in the
// same container.
type Server struct {
	router   chi.Router
	registry *proxy.Registry
	actors   []ActorView
	started  time.Time
}

func New(reg *proxy.Registry, rateLimitRPS int, actors ...ActorView) *Server {
	s := &Server{registry: reg, actors: actors, started: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if rateLimitRPS <= 0 {
		rateLimitRPS = 20
	}
	r.Use(httprate.LimitAll(rateLimitRPS, time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/actors", s.handleActors)
	r.Get("/registry", s.handleRegistry)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type healthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Actors  []actorHealth `json:"actors"`
}

type actorHealth struct {
	Name           string `json:"name"`
	Recovered      bool   `json:"recovered"`
	CurrentCycle   int    `json:"currentCycle"`
	PendingCount   int    `json:"pendingCount"`
	HasPendingOps  bool   `json:"hasPendingOps"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Uptime: time.Since(s.started).String()}
	for _, a := range s.actors {
		resp.Actors = append(resp.Actors, actorHealth{
			Name:          a.Name,
			Recovered:     a.Actor.Recovered(),
			CurrentCycle:  a.Actor.CurrentCycle(),
			PendingCount:  a.Engine.PendingCount(),
			HasPendingOps: a.Engine.HasPendingReservations(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActors(w http.ResponseWriter, r *http.Request) {
	type row struct {
		Name           string               `json:"name"`
		PendingCount   int                  `json:"pendingCount"`
		ResourceCounts *model.ResourceCount `json:"resourceCounts"`
	}
	var rows []row
	for _, a := range s.actors {
		rows = append(rows, row{
			Name:           a.Name,
			PendingCount:   a.Engine.PendingCount(),
			ResourceCounts: a.Engine.ResourceCounts(),
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"peers": s.registry.Names()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve is a convenience wrapper cmd/actord uses to run the diagnostics
// server until ctx is cancelled.
func Serve(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{Addr: addr, Handler: s}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
