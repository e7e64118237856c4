// Package command implements the Command Handler pipeline: the single
// entry point for every robot command. It validates, authenticates,
// authorizes, and de-duplicates synchronously, then hands execution off
// to the Robot Router asynchronously while returning an "accepted"
// response immediately.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgecore-dev/edgecore/internal/auth"
	"github.com/edgecore-dev/edgecore/internal/clock"
	"github.com/edgecore-dev/edgecore/internal/ctxstore"
	"github.com/edgecore-dev/edgecore/internal/events"
	"github.com/edgecore-dev/edgecore/internal/metrics"
	"github.com/edgecore-dev/edgecore/internal/models"
	"github.com/edgecore-dev/edgecore/internal/router"
	"github.com/edgecore-dev/edgecore/internal/validate"
)

// Router is the subset of *router.Router the handler depends on, so
// tests can substitute a stub.
type Router interface {
	RouteCommand(ctx context.Context, robotID, commandType string, params map[string]any, timeoutMS int, traceID string) (*router.DispatchResult, *models.ErrorBody)
}

// AuthManager is the subset of *authmgr.Manager the handler depends on.
type AuthManager interface {
	VerifyToken(token string, wantType auth.TokenType, traceID string) (*auth.Claims, bool)
	CheckPermission(userID, action string) bool
}

// activeCommand is bookkeeping for a command still running asynchronously.
type activeCommand struct {
	status    models.CommandStatus
	startedAt time.Time
}

// Handler is the Command Handler.
type Handler struct {
	router           Router
	auth             AuthManager
	ctx              *ctxstore.Store
	bus              *events.Bus
	clock            clock.Clock
	defaultTimeoutMS int

	activeMu sync.RWMutex
	active   map[string]*activeCommand
}

// New constructs a Handler wired to its collaborators. defaultTimeoutMS is
// the timeout applied to a command whose request omits timeout_ms
// (COMMAND_DEFAULT_TIMEOUT_MS).
func New(rt Router, am AuthManager, cs *ctxstore.Store, bus *events.Bus, clk clock.Clock, defaultTimeoutMS int) *Handler {
	return &Handler{
		router:           rt,
		auth:             am,
		ctx:              cs,
		bus:              bus,
		clock:            clk,
		defaultTimeoutMS: defaultTimeoutMS,
		active:           make(map[string]*activeCommand),
	}
}

// ProcessCommand runs the synchronous half of the pipeline: validate,
// authenticate, authorize, business-validate, de-duplicate, record
// context, emit "accepted", and spawn the asynchronous execution. It
// always returns a contract-conformant CommandResponse, never an error.
func (h *Handler) ProcessCommand(ctx context.Context, req models.CommandRequest) models.CommandResponse {
	commandID := req.Command.ID
	traceID := req.TraceID

	if err := validate.CommandRequest(req); err != nil {
		h.emit(traceID, events.SeverityWarn, events.CategoryCommand, "command validation failed: "+err.Error(),
			map[string]any{"command_id": commandID, "error": err.Error()})
		return h.errorResponse(traceID, commandID, models.ErrValidation, err.Error())
	}

	claims, ok := h.auth.VerifyToken(req.Auth.Token, auth.TokenTypeAccess, traceID)
	if !ok {
		h.emit(traceID, events.SeverityWarn, events.CategoryAuth, "authentication failed for command "+commandID,
			map[string]any{"command_id": commandID, "actor_id": req.Actor.ID, "actor_type": req.Actor.Type})
		return h.errorResponse(traceID, commandID, models.ErrUnauthorized, "authentication failed")
	}

	if !h.auth.CheckPermission(claims.UserID, req.Command.Type) {
		h.emit(traceID, events.SeverityWarn, events.CategoryAuth, "authorization failed for command "+commandID,
			map[string]any{"command_id": commandID, "actor_id": req.Actor.ID, "action": req.Command.Type, "resource": req.Command.Target.RobotID})
		return h.errorResponse(traceID, commandID, models.ErrUnauthorized, "insufficient permissions")
	}

	if err := validate.BusinessRules(req); err != nil {
		return h.errorResponse(traceID, commandID, models.ErrValidation, err.Error())
	}
	if req.Command.TimeoutMS == 0 {
		req.Command.TimeoutMS = h.defaultTimeoutMS
	}

	if h.ctx.CommandExists(commandID) {
		if cached, ok := h.ctx.GetCachedResponse(commandID); ok {
			return cached
		}
	}

	h.ctx.CreateContext(traceID, req)

	h.emit(traceID, events.SeverityInfo, events.CategoryCommand, "command accepted: "+commandID,
		map[string]any{"command_id": commandID, "type": req.Command.Type})

	go h.executeAsync(req)

	return models.CommandResponse{
		TraceID:   traceID,
		Timestamp: h.clock.Now().UTC(),
		Command:   models.CommandStatusRef{ID: commandID, Status: models.StatusAccepted},
	}
}

func (h *Handler) executeAsync(req models.CommandRequest) {
	commandID := req.Command.ID
	traceID := req.TraceID
	start := h.clock.Now()

	h.activeMu.Lock()
	h.active[commandID] = &activeCommand{status: models.StatusAccepted, startedAt: start}
	h.activeMu.Unlock()
	defer func() {
		h.activeMu.Lock()
		delete(h.active, commandID)
		h.activeMu.Unlock()
	}()
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("internal error: %v", p)
			h.emit(traceID, events.SeverityError, events.CategoryCommand, "command execution failed: "+commandID,
				map[string]any{"command_id": commandID, "error": msg})
			metrics.CommandsTotal.WithLabelValues("failed").Inc()
			h.ctx.UpdateResult(commandID, h.errorResponse(traceID, commandID, models.ErrInternal, msg))
		}
	}()

	h.emit(traceID, events.SeverityInfo, events.CategoryCommand, "command execution started: "+commandID,
		map[string]any{"command_id": commandID})

	timeout := time.Duration(req.Command.TimeoutMS) * time.Millisecond
	dctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, errBody := h.router.RouteCommand(dctx, req.Command.Target.RobotID, req.Command.Type, req.Command.Params, req.Command.TimeoutMS, traceID)

	h.activeMu.RLock()
	cancelled := h.active[commandID] != nil && h.active[commandID].status == models.StatusCancelled
	h.activeMu.RUnlock()
	if cancelled {
		return
	}

	var resp models.CommandResponse
	if errBody != nil {
		resp = models.CommandResponse{
			TraceID:   traceID,
			Timestamp: h.clock.Now().UTC(),
			Command:   models.CommandStatusRef{ID: commandID, Status: models.StatusFailed},
			Error:     errBody,
		}
		h.emit(traceID, events.SeverityError, events.CategoryCommand, "command execution failed: "+commandID,
			map[string]any{"command_id": commandID, "error": errBody.Message})
		metrics.CommandsTotal.WithLabelValues("failed").Inc()
	} else {
		resultMap := map[string]any{"data": result.Data, "summary": result.Summary}
		resp = models.CommandResponse{
			TraceID:   traceID,
			Timestamp: h.clock.Now().UTC(),
			Command:   models.CommandStatusRef{ID: commandID, Status: models.StatusSucceeded},
			Result:    resultMap,
		}
		h.emit(traceID, events.SeverityInfo, events.CategoryCommand, "command execution succeeded: "+commandID,
			map[string]any{"command_id": commandID})
		metrics.CommandsTotal.WithLabelValues("succeeded").Inc()
	}
	metrics.CommandDuration.Observe(h.clock.Now().Sub(start).Seconds())

	h.ctx.UpdateResult(commandID, resp)
}

// GetCommandStatus answers a still-running command from in-memory
// bookkeeping, falling back to the Context Store's terminal record.
func (h *Handler) GetCommandStatus(commandID string) (models.CommandStatusResult, bool) {
	h.activeMu.RLock()
	active, ok := h.active[commandID]
	h.activeMu.RUnlock()
	if ok {
		return models.CommandStatusResult{CommandID: commandID, Status: active.status, Timestamp: active.startedAt}, true
	}
	return h.ctx.GetCommandStatus(commandID)
}

// CancelCommand flags a still-running command as cancelled. It cannot
// interrupt a robot mid-dispatch; executeAsync observes the flag after
// the router returns and drops the result rather than storing it.
func (h *Handler) CancelCommand(commandID, traceID string) bool {
	h.activeMu.Lock()
	defer h.activeMu.Unlock()

	active, ok := h.active[commandID]
	if !ok {
		return false
	}
	active.status = models.StatusCancelled
	h.emit(traceID, events.SeverityInfo, events.CategoryCommand, "command cancelled: "+commandID,
		map[string]any{"command_id": commandID})
	return true
}

func (h *Handler) emit(traceID string, sev events.Severity, cat events.Category, message string, context map[string]any) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(events.Event{
		Topic:    fmt.Sprintf("%s.event", cat),
		TraceID:  traceID,
		Severity: sev,
		Category: cat,
		Message:  message,
		Context:  context,
	})
}

func (h *Handler) errorResponse(traceID, commandID string, code models.ErrorCode, message string) models.CommandResponse {
	return models.CommandResponse{
		TraceID:   traceID,
		Timestamp: h.clock.Now().UTC(),
		Command:   models.CommandStatusRef{ID: commandID, Status: models.StatusFailed},
		Error:     &models.ErrorBody{Code: code, Message: message},
	}
}
