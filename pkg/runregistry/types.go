package runregistry

import "time"

// RunState is the final or current state of a recorded run.
//
// NOTE: These values are persisted in run.json.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSubmitted RunState = "submitted"
	RunStateSuccess   RunState = "success"
	RunStateFailed    RunState = "failed"
)

// RunRecord is the persistent record written to run.json.
type RunRecord struct {
	RunID           string    `json:"run_id"`
	Mode            string    `json:"mode"`
	State           RunState  `json:"state"`
	Cluster         string    `json:"cluster,omitempty"`
	Profile         string    `json:"profile,omitempty"`
	WorkflowProfile string    `json:"workflow_profile,omitempty"`
	Command         []string  `json:"command"`
	ScriptPath      string    `json:"script_path,omitempty"`
	JobID           string    `json:"job_id,omitempty"`
	ExitCode        int       `json:"exit_code"`
	Error           string    `json:"error,omitempty"`
	WorkDir         string    `json:"work_dir"`
	CreatedAt       time.Time `json:"created_at"`

	EndedAt *time.Time `json:"ended_at,omitempty"`
}
