package main

// dashboardUpdate is the JSON payload pushed to the training dashboard
// on every accepted gradient push, carrying the layer's current version
// whether or not that push advanced it (SPEC_FULL.md DOMAIN STACK:
// gorilla/websocket).
type dashboardUpdate struct {
	Layer   int `json:"layer"`
	Version int `json:"version"`
	Vtcs    int `json:"vtcs"`
}
