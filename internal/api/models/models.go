package models

import "time"

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	Modified  bool   `json:"modified,omitempty" doc:"Built from a tree with uncommitted changes"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// Node models
type NodeStatusData struct {
	State         string     `json:"state" enum:"unconfigured,configured,starting,running,stopping,stopped,error" example:"running" doc:"Supervisor state"`
	PID           int        `json:"pid,omitempty" example:"4242" doc:"Node process ID while running"`
	RunID         string     `json:"run_id,omitempty" example:"5f0c6f1e-8a8e-4f4b-9b8e-2f1d7c9a1b2c" doc:"Identifier of the current run"`
	Ready         bool       `json:"ready" example:"true" doc:"Whether the node reported its IPC endpoint open"`
	StartedAt     *time.Time `json:"started_at,omitempty" doc:"When the current run was spawned"`
	UptimeSeconds float64    `json:"uptime_seconds,omitempty" example:"3600" doc:"Seconds since the current run was spawned"`
	Args          []string   `json:"args,omitempty" doc:"Argument vector of the current run"`
	DataDir       string     `json:"datadir,omitempty" example:"/home/geth/.ethereum/5" doc:"Data directory of the current run"`
	ExitCode      int        `json:"exit_code" example:"-1" doc:"Exit code of the last run, -1 when none"`
	LastError     string     `json:"last_error,omitempty" example:"node closed with code 1" doc:"Error of the last run"`
}

type NodeStatusResponse struct {
	Body NodeStatusData
}

type NodeStopData struct {
	ExitCode int `json:"exit_code" example:"0" doc:"Exit code of the stopped node, or signal number when killed"`
}

type NodeStopResponse struct {
	Body NodeStopData
}

type NodeReloadData struct {
	Restarted bool `json:"restarted" example:"true" doc:"Whether the node was restarted to apply changed options"`
}

type NodeReloadResponse struct {
	Body NodeReloadData
}

type NodeOption struct {
	Key   string `json:"key" example:"rpcport" doc:"Option name, emitted as --key"`
	Value any    `json:"value" doc:"Option value; true for bare flags"`
}

type NodeOptionsData struct {
	Options []NodeOption `json:"options" doc:"Options in flag order"`
	Count   int          `json:"count" example:"3" doc:"Number of options"`
}

type NodeOptionsResponse struct {
	Body NodeOptionsData
}

type NodeOutputRequest struct {
	Lines int `query:"lines" minimum:"0" maximum:"10000" default:"100" doc:"Number of newest lines to return, 0 for all"`
}

type NodeOutputLine struct {
	Time   time.Time `json:"time" doc:"When the line was read"`
	RunID  string    `json:"run_id,omitempty" doc:"Run that wrote the line"`
	Stream string    `json:"stream" enum:"stdout,stderr" example:"stderr" doc:"Output stream"`
	Line   string    `json:"line" example:"INFO [01-27|10:30:00.000] IPC endpoint opened" doc:"Output line"`
}

type NodeOutputData struct {
	Lines []NodeOutputLine `json:"lines" doc:"Output lines, oldest first"`
	Count int              `json:"count" example:"100" doc:"Number of lines"`
}

type NodeOutputResponse struct {
	Body NodeOutputData
}

// Node metrics models
type NodeMetricsData struct {
	State        string            `json:"state" example:"running" doc:"Supervisor state"`
	Starts       uint64            `json:"starts" example:"3" doc:"Node starts since gethkeeper started"`
	Exits        uint64            `json:"exits" example:"2" doc:"Node exits since gethkeeper started"`
	LastExitCode int               `json:"last_exit_code" example:"0" doc:"Exit code of the last exit, -1 when none"`
	ReadySeconds float64           `json:"ready_seconds" example:"3.2" doc:"Seconds the last run took to become ready"`
	OutputLines  map[string]uint64 `json:"output_lines" doc:"Output lines read per stream"`
	Timestamp    string            `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Sample time"`
}

// Logging models
type LogLevelsData struct {
	Modules map[string]string `json:"modules" doc:"Current level per logging module"`
}

type LogLevelsResponse struct {
	Body LogLevelsData
}

type SetLogLevelRequest struct {
	Body struct {
		Module string `json:"module,omitempty" example:"process" doc:"Logging module, empty for the global level"`
		Level  string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}
