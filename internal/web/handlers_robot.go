package web

import (
	"encoding/json"
	"net/http"

	"github.com/edgecore-dev/edgecore/internal/models"
)

// apiRegisterRobot handles POST /api/robots/register.
func (s *Server) apiRegisterRobot(w http.ResponseWriter, r *http.Request) {
	var reg models.RobotRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if reg.RobotID == "" || reg.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "robot_id and endpoint are required")
		return
	}
	if reg.Protocol == "" {
		reg.Protocol = models.ProtocolHTTP
	}

	s.deps.Robots.RegisterRobot(reg)
	robot, _ := s.deps.Robots.GetRobot(reg.RobotID)
	writeJSON(w, http.StatusCreated, robot)
}

// apiUnregisterRobot handles DELETE /api/robots/{robot_id}.
func (s *Server) apiUnregisterRobot(w http.ResponseWriter, r *http.Request) {
	robotID := r.PathValue("robot_id")
	if !s.deps.Robots.UnregisterRobot(robotID) {
		writeError(w, http.StatusNotFound, "unknown robot_id: "+robotID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiRobotHeartbeat handles POST /api/robots/heartbeat.
func (s *Server) apiRobotHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb models.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if hb.Status == "" {
		hb.Status = models.RobotOnline
	}

	if !s.deps.Robots.UpdateHeartbeat(hb) {
		writeError(w, http.StatusNotFound, "unknown robot_id: "+hb.RobotID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// apiListRobots handles GET /api/robots, optionally filtered by
// ?type=... and ?status=....
func (s *Server) apiListRobots(w http.ResponseWriter, r *http.Request) {
	robotType := r.URL.Query().Get("type")
	status := models.RobotStatus(r.URL.Query().Get("status"))

	robots := s.deps.Robots.ListRobots(robotType, status)
	if robots == nil {
		robots = []models.Robot{}
	}
	writeJSON(w, http.StatusOK, robots)
}

// apiGetRobot handles GET /api/robots/{robot_id}.
func (s *Server) apiGetRobot(w http.ResponseWriter, r *http.Request) {
	robotID := r.PathValue("robot_id")
	robot, ok := s.deps.Robots.GetRobot(robotID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown robot_id: "+robotID)
		return
	}
	writeJSON(w, http.StatusOK, robot)
}
