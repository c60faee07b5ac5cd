/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repohost

// State is a lifecycle state emitted by the build or pipeline service.
type State string

const (
	// StateStarted is emitted by CodePipeline when an execution begins.
	StateStarted State = "STARTED"
	// StateInProgress is emitted by CodeBuild when a build begins.
	StateInProgress State = "IN_PROGRESS"
	StateSucceeded  State = "SUCCEEDED"
	StateFailed     State = "FAILED"
	StateStopped    State = "STOPPED"
)

// Status is a commit status in a host's own vocabulary.
type Status string

type phase int

const (
	phasePending phase = iota
	phaseSucceeded
	phaseFailed
	phaseStopped
)

func (s State) phase() (phase, bool) {
	switch s {
	case StateStarted, StateInProgress:
		return phasePending, true
	case StateSucceeded:
		return phaseSucceeded, true
	case StateFailed:
		return phaseFailed, true
	case StateStopped:
		return phaseStopped, true
	default:
		return 0, false
	}
}

// vocabulary holds a host's status for every phase. Hosts declare it with an
// unkeyed literal, so adding a phase breaks the build until every host maps it.
type vocabulary struct {
	pending   Status
	succeeded Status
	failed    Status
	stopped   Status
}

func (v vocabulary) status(p phase) Status {
	switch p {
	case phasePending:
		return v.pending
	case phaseSucceeded:
		return v.succeeded
	case phaseFailed:
		return v.failed
	default:
		return v.stopped
	}
}

var vocabularies = map[Kind]vocabulary{
	GitHub:    {"pending", "success", "failure", "error"},
	Bitbucket: {"INPROGRESS", "SUCCESSFUL", "FAILED", "STOPPED"},
}

// Translate maps a platform state onto the status vocabulary of the given
// host. It reports false when either the host or the state is unknown, in
// which case no status should be sent.
func Translate(hostKind, platformState string) (Status, bool) {
	kind, ok := ParseKind(hostKind)
	if !ok {
		return "", false
	}
	return kind.Translate(State(platformState))
}

// Translate maps s onto the vocabulary of k.
func (k Kind) Translate(s State) (Status, bool) {
	v, ok := vocabularies[k]
	if !ok {
		return "", false
	}
	p, ok := s.phase()
	if !ok {
		return "", false
	}
	return v.status(p), true
}
