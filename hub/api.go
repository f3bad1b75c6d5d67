package hub

// Node describes a participating node as published by the hub directory.
type Node struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	PublicKey string `json:"public_key"`
	RobotID   string `json:"robot_id"`
}

// AnalysisNode links a node to an analysis it participates in.
type AnalysisNode struct {
	ID     string `json:"id"`
	NodeID string `json:"node_id"`
	Node   Node   `json:"node"`
}

// responseContainer is the hub's JSON:API style envelope.
type responseContainer[T any] struct {
	Data T `json:"data"`
}
