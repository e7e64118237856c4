// Package validate checks a CommandRequest against the wire contract:
// required fields, enums, patterns, and the timeout_ms bounds. There is
// no JSON-Schema library in play here; validation is a handful of plain
// struct checks in the same terse style as the rest of the core.
package validate

import (
	"fmt"
	"regexp"

	"github.com/edgecore-dev/edgecore/internal/models"
)

const (
	minTimeoutMS = 100
	maxTimeoutMS = 600_000
)

var commandTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]+$`)

var validActorTypes = map[string]bool{"human": true, "ai": true, "system": true}

var validSources = map[string]bool{"webui": true, "api": true, "cli": true, "scheduler": true, "": true}

// CommandRequest checks structural validity: required fields, enums, the
// command type pattern, and a non-zero timestamp. It does not check
// timeout_ms bounds — that is a business rule, checked separately by
// BusinessRules so the two error messages stay distinguishable.
func CommandRequest(req models.CommandRequest) error {
	if req.TraceID == "" {
		return fmt.Errorf("trace_id is required")
	}
	if req.Actor.ID == "" {
		return fmt.Errorf("actor.id is required")
	}
	if req.Actor.Type == "" || !validActorTypes[req.Actor.Type] {
		return fmt.Errorf("actor.type must be one of human, ai, system")
	}
	if !validSources[req.Source] {
		return fmt.Errorf("source must be one of webui, api, cli, scheduler")
	}
	if req.Command.ID == "" {
		return fmt.Errorf("command.id is required")
	}
	if req.Command.Type == "" || !commandTypePattern.MatchString(req.Command.Type) {
		return fmt.Errorf("command.type must match %s", commandTypePattern.String())
	}
	if req.Command.Target.RobotID == "" {
		return fmt.Errorf("command.target.robot_id is required")
	}
	if req.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// BusinessRules checks the business-rule bounds that sit alongside
// structural validity: timeout_ms must be within [100ms, 600000ms].
func BusinessRules(req models.CommandRequest) error {
	timeout := req.Command.TimeoutMS
	if timeout == 0 {
		return nil // caller defaults it before dispatch
	}
	if timeout < minTimeoutMS {
		return fmt.Errorf("timeout_ms must not be less than %dms", minTimeoutMS)
	}
	if timeout > maxTimeoutMS {
		return fmt.Errorf("timeout_ms must not exceed %dms (10 minutes)", maxTimeoutMS)
	}
	return nil
}
