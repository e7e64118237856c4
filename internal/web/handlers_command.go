package web

import (
	"encoding/json"
	"net/http"

	"github.com/edgecore-dev/edgecore/internal/models"
)

// apiCreateCommand handles POST /api/command: decode the envelope, hand it
// to the Command Handler, and return its response verbatim (it is already
// contract-conformant whether accepted, cached, or rejected).
func (s *Server) apiCreateCommand(w http.ResponseWriter, r *http.Request) {
	var req models.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCommandError(w, "", models.ErrValidation, "malformed request body: "+err.Error())
		return
	}

	resp := s.deps.Commands.ProcessCommand(r.Context(), req)
	status := http.StatusAccepted
	if resp.Error != nil {
		status = models.HTTPStatusFor(resp.Error.Code)
	}
	writeJSON(w, status, resp)
}

// apiGetCommandStatus handles GET /api/command/{command_id}.
func (s *Server) apiGetCommandStatus(w http.ResponseWriter, r *http.Request) {
	commandID := r.PathValue("command_id")
	result, ok := s.deps.Commands.GetCommandStatus(commandID)
	if !ok {
		writeCommandError(w, "", models.ErrRobotNotFound, "unknown command_id: "+commandID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// apiCancelCommand handles DELETE /api/command/{command_id} and the
// supplemented POST .../cancel alias.
func (s *Server) apiCancelCommand(w http.ResponseWriter, r *http.Request) {
	commandID := r.PathValue("command_id")
	traceID := r.URL.Query().Get("trace_id")

	if !s.deps.Commands.CancelCommand(commandID, traceID) {
		writeCommandError(w, traceID, models.ErrRobotNotFound, "command is not running: "+commandID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command_id": commandID, "status": models.StatusCancelled})
}
