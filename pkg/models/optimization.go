package models

import "time"

// OptimizationPhase is derived from the optimization timestamps and never stored
type OptimizationPhase string

const (
	PhasePreparing  OptimizationPhase = "preparing"
	PhaseOptimizing OptimizationPhase = "optimizing"
	PhaseValidating OptimizationPhase = "validating"
	PhaseFinishing  OptimizationPhase = "finishing"
	PhaseCompleted  OptimizationPhase = "completed"
	PhaseFailed     OptimizationPhase = "failed"
)

// Terminal reports whether no further transitions are possible
func (p OptimizationPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Optimization is one run of the prompt improvement pipeline
type Optimization struct {
	ID          uint   `gorm:"primarykey" json:"id"`
	UUID        string `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	WorkspaceID uint   `gorm:"not null;index" json:"workspace_id"`
	ProjectID   uint   `gorm:"not null;index" json:"project_id"`

	// Baseline under optimization
	DocumentUUID     string `gorm:"type:varchar(36);not null;index" json:"document_uuid"`
	BaselineCommitID uint   `gorm:"not null" json:"baseline_commit_id"`
	BaselinePrompt   string `gorm:"type:longtext;not null" json:"baseline_prompt"`
	EvaluationUUID   string `gorm:"type:varchar(36);not null" json:"evaluation_uuid"`
	Engine           string `gorm:"type:varchar(50);not null" json:"engine"`

	Configuration OptimizationConfiguration `gorm:"serializer:json;type:text" json:"configuration"`

	// Set together by prepare
	TrainsetID *uint `json:"trainset_id,omitempty"`
	TestsetID  *uint `json:"testset_id,omitempty"`

	// Set together by execute
	OptimizedCommitID *uint   `json:"optimized_commit_id,omitempty"`
	OptimizedPrompt   *string `gorm:"type:longtext" json:"optimized_prompt,omitempty"`

	// Set together by validate
	BaselineExperimentID  *uint `json:"baseline_experiment_id,omitempty"`
	OptimizedExperimentID *uint `json:"optimized_experiment_id,omitempty"`

	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	PreparedAt  *time.Time `json:"prepared_at,omitempty"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OptimizationConfiguration holds the user supplied settings of an optimization
type OptimizationConfiguration struct {
	Parameters map[string]ParameterConfiguration `json:"parameters,omitempty"`
	Simulation *SimulationSettings               `json:"simulation,omitempty"`
	Scope      ScopeConfiguration                `json:"scope"`
}

// ParameterConfiguration configures a single prompt parameter
type ParameterConfiguration struct {
	Column string `json:"column,omitempty"` // Testset column override
	IsPII  bool   `json:"isPii"`
}

// SimulationSettings is passed through to both validation experiments
type SimulationSettings struct {
	SimulateToolResponses bool     `json:"simulateToolResponses"`
	SimulatedTools        []string `json:"simulatedTools,omitempty"`
	Instructions          string   `json:"instructions,omitempty"`
}

// ScopeConfiguration restricts which parts of the prompt the engine may change
type ScopeConfiguration struct {
	Configuration bool `json:"configuration"`
	Instructions  bool `json:"instructions"`
}

// OrDefault returns the scope to apply; an empty scope leaves nothing to
// change, so it falls back to instructions only
func (s ScopeConfiguration) OrDefault() ScopeConfiguration {
	if !s.Configuration && !s.Instructions {
		return ScopeConfiguration{Instructions: true}
	}
	return s
}

// IsPII reports whether the named parameter is flagged as personal data
func (c OptimizationConfiguration) IsPII(name string) bool {
	p, ok := c.Parameters[name]
	return ok && p.IsPII
}

// Phase projects the current phase from the first unset timestamp
func (o *Optimization) Phase() OptimizationPhase {
	switch {
	case o.PreparedAt == nil && o.FinishedAt == nil:
		return PhasePreparing
	case o.ExecutedAt == nil && o.FinishedAt == nil:
		return PhaseOptimizing
	case o.ValidatedAt == nil && o.FinishedAt == nil:
		return PhaseValidating
	case o.FinishedAt == nil:
		return PhaseFinishing
	case o.Error != nil:
		return PhaseFailed
	default:
		return PhaseCompleted
	}
}

// Ended reports whether the optimization reached its terminal state
func (o *Optimization) Ended() bool {
	return o.FinishedAt != nil
}

// HasDatasets reports whether the trainset/testset pair is set
func (o *Optimization) HasDatasets() bool {
	return o.TrainsetID != nil && o.TestsetID != nil
}

// ShortUUID returns the first 8 characters of the uuid, used in generated names
func (o *Optimization) ShortUUID() string {
	if len(o.UUID) < 8 {
		return o.UUID
	}
	return o.UUID[:8]
}
