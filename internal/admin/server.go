package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rudder/internal/automaton"
	"rudder/internal/cloud"
	"rudder/internal/dispatch"
	"rudder/internal/event"
	"rudder/pkg/logging"
)

// Orchestrator is the slice of the scheduler the admin surface needs.
type Orchestrator interface {
	DispatchAndWait(ctx context.Context, ev *event.Event) (event.Outcome, error)
	Status(resourceID string) (automaton.Status, bool)
	Statuses() []automaton.Status
	TenantStatuses(tenantID string) []automaton.Status
}

// Server exposes the administrative HTTP API: status listings, per-resource
// commands, and tenant-wide commands. Commands are synchronous: the response
// carries the outcome of the pass they triggered.
type Server struct {
	orchestrator   Orchestrator
	inventory      cloud.Inventory
	listen         string
	commandTimeout time.Duration

	http *http.Server
}

// Options configures the admin server.
type Options struct {
	Listen         string
	CommandTimeout time.Duration
}

// NewServer creates the admin server.
func NewServer(orchestrator Orchestrator, inventory cloud.Inventory, opts Options) *Server {
	if opts.Listen == "" {
		opts.Listen = "127.0.0.1:44250"
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = time.Minute
	}
	return &Server{
		orchestrator:   orchestrator,
		inventory:      inventory,
		listen:         opts.Listen,
		commandTimeout: opts.CommandTimeout,
	}
}

// Handler builds the route table. Split out so tests can drive the API
// without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/v1/resources", s.handleListResources)
	mux.HandleFunc("GET /api/v1/resources/{id}", s.handleGetResource)
	mux.HandleFunc("POST /api/v1/resources/{id}/{command}", s.handleResourceCommand)
	mux.HandleFunc("GET /api/v1/tenants/{tenant}/resources", s.handleTenantResources)
	mux.HandleFunc("POST /api/v1/tenants/{tenant}/{command}", s.handleTenantCommand)
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Admin", "listening on %s", s.listen)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.Statuses())
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, ok := s.orchestrator.Status(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no machine for resource %q", id))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTenantResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orchestrator.TenantStatuses(r.PathValue("tenant")))
}

// CommandResult is the response for a single resource's command.
type CommandResult struct {
	ResourceID string                 `json:"resource_id"`
	State      string                 `json:"state"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

func (s *Server) handleResourceCommand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cmd, ok := parseCommand(r.PathValue("command"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown command %q", r.PathValue("command")))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.commandTimeout)
	defer cancel()

	result, err := s.runCommand(ctx, id, "", cmd)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTenantCommand(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	cmd, ok := parseCommand(r.PathValue("command"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown command %q", r.PathValue("command")))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.commandTimeout)
	defer cancel()

	resources, err := s.tenantResources(ctx, tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(resources) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no resources for tenant %q", tenant))
		return
	}

	results := make([]CommandResult, 0, len(resources))
	for _, res := range resources {
		result, err := s.runCommand(ctx, res.ID, res.TenantID, cmd)
		if err != nil {
			result = CommandResult{ResourceID: res.ID, Error: err.Error()}
		}
		results = append(results, result)
	}
	writeJSON(w, http.StatusOK, results)
}

// tenantResources resolves the targets of a tenant command. The "*"
// wildcard addresses every known resource.
func (s *Server) tenantResources(ctx context.Context, tenant string) ([]cloud.Resource, error) {
	if tenant == "*" {
		return s.inventory.ListResources(ctx)
	}
	return s.inventory.ListTenantResources(ctx, tenant)
}

func (s *Server) runCommand(ctx context.Context, resourceID, tenantID string, cmd event.Command) (CommandResult, error) {
	out, err := s.orchestrator.DispatchAndWait(ctx, &event.Event{
		ResourceID: resourceID,
		TenantID:   tenantID,
		Kind:       event.KindCommand,
		Command:    cmd,
		Reason:     "admin",
		ReceivedAt: time.Now(),
	})
	if err != nil {
		return CommandResult{}, err
	}

	result := CommandResult{
		ResourceID: out.ResourceID,
		State:      out.State,
		Detail:     out.Detail,
	}
	if out.Err != nil {
		result.Error = out.Err.Error()
	}
	return result, nil
}

func parseCommand(raw string) (event.Command, bool) {
	switch event.Command(raw) {
	case event.CommandManage, event.CommandUnmanage, event.CommandRebuild,
		event.CommandUpdate, event.CommandDebug, event.CommandDelete:
		return event.Command(raw), true
	}
	return "", false
}

func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "command timed out waiting for its machine")
	case errors.Is(err, dispatch.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "orchestrator is shutting down")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Debug("Admin", "writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
