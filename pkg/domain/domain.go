// Package domain holds the entity types shared by every storage backend,
// service, and wire adapter in RustyOps. Types here carry no persistence or
// transport logic of their own; they are the value objects everything else
// operates on.
package domain

import "time"

// PipelineStatus is the lifecycle state of a Pipeline, per the state machine
// in pkg/pipelinesvc.
type PipelineStatus string

const (
	PipelineDefined    PipelineStatus = "Defined"
	PipelineAssigned   PipelineStatus = "Assigned"
	PipelineInProgress PipelineStatus = "InProgress"
	PipelineSuccess    PipelineStatus = "Success"
	PipelineFailure    PipelineStatus = "Failure"
	PipelineUnstable   PipelineStatus = "Unstable"
)

// Terminal reports whether the status admits no further transitions;
// pipelinesvc's Reset leaves a pipeline in a terminal status unchanged.
func (s PipelineStatus) Terminal() bool {
	switch s {
	case PipelineSuccess, PipelineFailure, PipelineUnstable:
		return true
	default:
		return false
	}
}

// User is an authentication principal.
type User struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	PasswordHash string   `json:"-"`
	RoleIDs      []string `json:"role_ids"`
}

// Role groups users for authorization purposes.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	UserIDs     []string `json:"user_ids"`
}

// PermissionItemAll is the Permission.Item value scoping a Permission to
// every resource of its kind; Item may instead name one entity ("ID[<uuid>]").
const PermissionItemAll = "ALL"

// Permission grants a user or role the right to act on a resource.
type Permission struct {
	ID       string  `json:"id"`
	UserID   *string `json:"user_id,omitempty"`
	RoleID   *string `json:"role_id,omitempty"`
	Resource string  `json:"resource"`
	Right    string  `json:"right"`
	Item     string  `json:"item"`
}

// Group clusters related projects.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Project is a source repository registered for pipeline execution.
type Project struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	GroupID    *string `json:"group_id,omitempty"`
	MainBranch string  `json:"main_branch"`
}

// Job is a named, versioned pipeline template attached to a project.
type Job struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Template    string `json:"template"` // base64url-encoded YAML
	ProjectID   string `json:"project_id"`
}

// Pipeline is a concrete execution instance of a Job.
type Pipeline struct {
	ID           string            `json:"id"`
	Number       int               `json:"number"`
	Branch       string            `json:"branch"`
	RegisterDate time.Time         `json:"register_date"`
	StartDate    *time.Time        `json:"start_date,omitempty"`
	EndDate      *time.Time        `json:"end_date,omitempty"`
	Status       PipelineStatus    `json:"status"`
	StageStatus  map[string]string `json:"stage_status"`
	JobID        string            `json:"job_id"`
	AgentID      *string           `json:"agent_id,omitempty"`
}

// Agent is a worker process that claims and executes pipelines.
type Agent struct {
	ID     string `json:"id"`
	Expiry int64  `json:"expiry"` // Unix seconds
}

// PipelineLogEntry is one line of a pipeline's durable log record.
type PipelineLogEntry struct {
	Stage string `json:"stage"`
	Line  string `json:"line"`
}

// PipelineLog is the append-only durable record a pipeline's log queue
// drains into, keyed by pipeline id.
type PipelineLog struct {
	ID      string             `json:"id"`
	Entries []PipelineLogEntry `json:"entries"`
}
