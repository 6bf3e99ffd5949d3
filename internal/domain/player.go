// Package domain contains entity without logic, just meta-data
package domain

// Position is the last point a client asserted for its avatar.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlayerSnapshot is what a joiner learns about each player already in a
// room: advisory caches, never validated against game rules.
type PlayerSnapshot struct {
	Username string   `json:"username"`
	Position Position `json:"position"`
	OnStage  bool     `json:"onStage"`
}
