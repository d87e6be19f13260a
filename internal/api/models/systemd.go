package models

// SystemdServiceStatus contains the status information for a systemd unit.
type SystemdServiceStatus struct {
	Service  string `json:"service" example:"gethkeeper.service" doc:"Unit name"`
	Status   string `json:"status" example:"active" doc:"ActiveState (active, inactive, failed, etc.)"`
	SubState string `json:"sub_state" example:"running" doc:"SubState of the unit"`
}

// SystemdServiceStatusResponse wraps SystemdServiceStatus for API responses.
type SystemdServiceStatusResponse struct {
	Body SystemdServiceStatus
}

// SystemdServiceAction contains the result of a systemd unit action.
type SystemdServiceAction struct {
	Service string `json:"service" example:"gethkeeper.service" doc:"Unit name"`
	Action  string `json:"action" example:"restart" doc:"Action performed (stop, restart)"`
	Result  string `json:"result" example:"done" doc:"Job result reported by systemd"`
	Success bool   `json:"success" example:"true" doc:"Whether the job finished with result done"`
}

// SystemdServiceActionResponse wraps SystemdServiceAction for API responses.
type SystemdServiceActionResponse struct {
	Body SystemdServiceAction
}
