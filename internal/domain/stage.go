// Package domain defines the data shapes shared by the coaching core,
// its transport adapters and persistence.
package domain

// Stage is one of the five canonical phases of a sales call.
type Stage string

const (
	StageOpening   Stage = "opening"
	StageDiscovery Stage = "discovery"
	StagePitch     Stage = "pitch"
	StageObjection Stage = "objection"
	StageClose     Stage = "close"
)

// Stages lists every stage in natural progression order.
var Stages = []Stage{StageOpening, StageDiscovery, StagePitch, StageObjection, StageClose}

// ParseStage maps a raw label onto a known stage.
func ParseStage(s string) (Stage, bool) {
	for _, st := range Stages {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Index returns the position of the stage in Stages, or -1 when unknown.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the five canonical stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}
