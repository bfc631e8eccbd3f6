// Package types defines shared API types for the telephone ops API.
package types

// HealthResponse is the response from /api/v1/health
type HealthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
	Uptime int64  `json:"uptime"`
}

// StatsResponse is the response from /api/v1/stats
type StatsResponse struct {
	ActiveLegs    int `json:"active_legs"`
	ActiveCalls   int `json:"active_calls"`
	RingingLegs   int `json:"ringing_legs"`
	DialingLegs   int `json:"dialing_legs"`
	BridgedCalls  int `json:"bridged_calls"`
	SearchingLegs int `json:"searching_legs"`
}

// CallLeg represents one side of an active call.
type CallLeg struct {
	LegID      string `json:"leg_id"`
	TenantID   string `json:"tenant_id"`
	PeerTenant string `json:"peer_tenant,omitempty"`
	Outgoing   bool   `json:"outgoing"`
	State      string `json:"state"`
	CreatedAt  string `json:"created_at"`
	StartedAt  string `json:"started_at,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	QueueDepth int    `json:"queue_depth"`
}
