package schema

import "time"

// WorkflowType enumerates the closed set of workflow categories.
type WorkflowType string

const (
	WorkflowTypeDeploy    WorkflowType = "deploy"
	WorkflowTypeBuild     WorkflowType = "build"
	WorkflowTypeImport    WorkflowType = "import"
	WorkflowTypeMigration WorkflowType = "migration"
	WorkflowTypeCustom    WorkflowType = "custom"
)

// StepSpec describes a single step in a workflow template.
type StepSpec struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// WorkflowTemplate is a reusable ordered step catalog entry. The engine is
// agnostic to where templates come from: built-in catalog or user-defined.
type WorkflowTemplate struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Type        WorkflowType `json:"type"`
	Steps       []StepSpec   `json:"steps"`
	Tags        []string     `json:"tags,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at,omitempty"`
}

// ScheduledJob is a cron-triggered workflow execution.
type ScheduledJob struct {
	ID             string     `json:"id"`
	TemplateID     string     `json:"template_id"`
	Name           string     `json:"name,omitempty"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
