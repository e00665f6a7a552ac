package model

// RunState is the per-run snapshot file (runs/<run_id>/state.yaml). It is
// rewritten atomically after every action; the execution log, not this file,
// is the authoritative history.
type RunState struct {
	SchemaVersion int           `yaml:"schema_version"`
	FileType      string        `yaml:"file_type"`
	RunID         string        `yaml:"run_id"`
	ProtocolName  string        `yaml:"protocol_name"`
	Status        RunStatus     `yaml:"status"`
	CurrentAction int           `yaml:"current_action"`
	TotalActions  int           `yaml:"total_actions"`
	StartedAt     string        `yaml:"started_at"`
	UpdatedAt     string        `yaml:"updated_at"`
	FinishedAt    string        `yaml:"finished_at,omitempty"`
	Checkpoint    string        `yaml:"checkpoint,omitempty"` // message of the gate being waited on
	Modules       []ModuleState `yaml:"modules,omitempty"`
	LastError     string        `yaml:"last_error,omitempty"`
}

// ModuleState is a temperature module snapshot, embedded in RunState and
// returned by the coordinator's Observe.
type ModuleState struct {
	ModuleID  string       `yaml:"module_id" json:"module_id"`
	TargetC   float64      `yaml:"target_c" json:"target_c"`
	ObservedC float64      `yaml:"observed_c" json:"observed_c"`
	Status    ModuleStatus `yaml:"status" json:"status"`
}

// ModuleReading is one raw driver sample.
type ModuleReading struct {
	CurrentC    float64
	TargetC     float64
	Faulted     bool
	FaultReason string
}
