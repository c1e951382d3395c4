//
// Tencent is pleased to support the open source community by making trpc-interrupt-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-interrupt-go is licensed under the Apache License Version 2.0.
//
//

// Package rest exposes interrupt registration, the pre invocation gate and
// the interrupt queries over HTTP.
package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-interrupt-go/execution"
	"trpc.group/trpc-go/trpc-interrupt-go/interrupt"
	"trpc.group/trpc-go/trpc-interrupt-go/log"
)

const defaultRetryAfter = 2 * time.Second

// Server routes HTTP requests to the interrupt Manager and Service.
type Server struct {
	mgr    *interrupt.Manager
	svc    *interrupt.Service
	router *mux.Router

	allowedOrigins []string
	retryAfter     time.Duration
}

// Option configures the Server instance.
type Option func(*Server)

// WithAllowedOrigins restricts CORS origins. All origins are allowed by
// default.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithRetryAfter sets the Retry-After hint sent when a plan is busy.
func WithRetryAfter(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.retryAfter = d
		}
	}
}

// New creates a Server.
func New(mgr *interrupt.Manager, svc *interrupt.Service, opts ...Option) *Server {
	s := &Server{
		mgr:            mgr,
		svc:            svc,
		router:         mux.NewRouter(),
		allowedOrigins: []string{"*"},
		retryAfter:     defaultRetryAfter,
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Length", "Content-Type", "Retry-After"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/plans/{planId}/interrupts", s.handleRegister).Methods(http.MethodPost)
	s.router.HandleFunc("/plans/{planId}/interrupts", s.handleListPlan).Methods(http.MethodGet)
	s.router.HandleFunc("/plans/{planId}/interrupts:close", s.handleClose).Methods(http.MethodPost)
	s.router.HandleFunc("/plans/{planId}/nodes/{nodeId}/check", s.handleCheck).Methods(http.MethodPost)
	s.router.HandleFunc("/plans/{planId}/nodes/{nodeId}/interrupts", s.handleListNode).Methods(http.MethodGet)

	s.router.HandleFunc("/interrupts/{id}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/interrupts", s.handleDelete).Methods(http.MethodDelete)

	preflight := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
	s.router.PathPrefix("/").HandlerFunc(preflight).Methods(http.MethodOptions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// registerRequest is the body of an interrupt registration. The plan comes
// from the path.
type registerRequest struct {
	NodeExecutionID string            `json:"node_execution_id,omitempty"`
	Type            interrupt.Type    `json:"type"`
	Config          interrupt.Config  `json:"config"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["planId"]
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode body: %v", interrupt.ErrInvalidPackage, err))
		return
	}
	log.Debugf("handleRegister called: plan=%s node=%s type=%s", planID, req.NodeExecutionID, req.Type)
	i, err := s.mgr.Register(r.Context(), interrupt.Package{
		PlanExecutionID: planID,
		NodeExecutionID: req.NodeExecutionID,
		Type:            req.Type,
		Config:          req.Config,
		Metadata:        req.Metadata,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, i)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	check, err := s.svc.CheckInterruptsPreInvocation(r.Context(), vars["planId"], vars["nodeId"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, check)
}

func (s *Server) handleListPlan(w http.ResponseWriter, r *http.Request) {
	planID := mux.Vars(r)["planId"]
	q := r.URL.Query()
	var (
		out []interrupt.Interrupt
		err error
	)
	switch {
	case q.Get("scope") == "plan":
		out, err = s.svc.FetchActivePlanLevelInterrupts(r.Context(), planID)
	case q.Get("active") == "true":
		out, err = s.svc.FetchActiveInterrupts(r.Context(), planID)
	default:
		out, err = s.svc.FetchAllInterrupts(r.Context(), planID)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeList(w, out)
}

func (s *Server) handleListNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var (
		out []interrupt.Interrupt
		err error
	)
	if t := r.URL.Query().Get("type"); t != "" {
		out, err = s.svc.FetchActiveInterruptsForNodeByType(r.Context(), vars["planId"], vars["nodeId"],
			interrupt.Type(t))
	} else {
		out, err = s.svc.FetchActiveInterruptsForNode(r.Context(), vars["planId"], vars["nodeId"])
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeList(w, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	i, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, i)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.CloseActiveInterrupts(r.Context(), mux.Vars(r)["planId"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	plans := r.URL.Query()["planExecutionId"]
	if len(plans) == 0 {
		s.writeError(w, fmt.Errorf("%w: planExecutionId is required", interrupt.ErrInvalidPackage))
		return
	}
	n, err := s.svc.DeleteAllInterrupts(r.Context(), plans)
	if err != nil {
		s.writeError(w, err)
		return
	}
	log.Infof("deleted %d interrupt(s) of %d plan(s)", n, len(plans))
	s.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) writeList(w http.ResponseWriter, out []interrupt.Interrupt) {
	if out == nil {
		out = []interrupt.Interrupt{}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, interrupt.ErrLockUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, interrupt.ErrInvalidPackage),
		errors.Is(err, interrupt.ErrNoHandlerForType),
		errors.Is(err, interrupt.ErrUnsupportedInterruptType):
		return http.StatusBadRequest
	case errors.Is(err, interrupt.ErrInterruptNotFound),
		errors.Is(err, execution.ErrNodeNotFound),
		errors.Is(err, execution.ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, interrupt.ErrInterruptAlreadyActive),
		errors.Is(err, interrupt.ErrNoActivePause),
		errors.Is(err, interrupt.ErrInvalidNodeStatus),
		errors.Is(err, interrupt.ErrMultiplePlanInterrupts):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(s.retryAfter.Seconds()))))
	}
	if code >= http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("write response: %v", err)
	}
}
