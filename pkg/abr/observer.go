// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package abr

// FrameObserver receives frame transmission events from the muxer.
type FrameObserver interface {
	BeforeFrameSent()
	AfterFrameSent(size int)
}

// CongestionObserver receives the fill ratio of the outbound buffer.
type CongestionObserver interface {
	OnCongestion(bufferFill float64)
}

// RunKind tells which policy started a sampling run.
type RunKind int

// Run kinds.
const (
	RunBackground RunKind = iota
	RunPriority
	RunCongestion
)

func (k RunKind) String() string {
	switch k {
	case RunBackground:
		return "background"
	case RunPriority:
		return "priority"
	case RunCongestion:
		return "congestion"
	default:
		return "unknown"
	}
}

// UpdateReason tells why a bitrate update was emitted.
type UpdateReason int

// Update reasons.
const (
	UpdateNetworkDefault UpdateReason = iota
	UpdateCongestionSeed
	UpdatePriorityResult
	UpdateCongestionResult
	UpdateSimpleAdaptation
)

func (r UpdateReason) String() string {
	switch r {
	case UpdateNetworkDefault:
		return "network_default"
	case UpdateCongestionSeed:
		return "congestion_seed"
	case UpdatePriorityResult:
		return "priority_result"
	case UpdateCongestionResult:
		return "congestion_result"
	case UpdateSimpleAdaptation:
		return "simple_adaptation"
	default:
		return "unknown"
	}
}

// RejectReason tells why a congestion signal did not start a run.
type RejectReason int

// Reject reasons.
const (
	RejectBelowThreshold RejectReason = iota
	RejectNoNetwork
	RejectPriorityInFlight
	RejectCooldown
	RejectRunActive
	RejectClosed
)

func (r RejectReason) String() string {
	switch r {
	case RejectBelowThreshold:
		return "below_threshold"
	case RejectNoNetwork:
		return "no_network"
	case RejectPriorityInFlight:
		return "priority_in_flight"
	case RejectCooldown:
		return "cooldown"
	case RejectRunActive:
		return "run_active"
	case RejectClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observer is notified about controller decisions. It is called outside of
// the controller's lock and must not block.
type Observer interface {
	OnBitrateUpdate(reason UpdateReason, bitrate int)
	OnRunStarted(kind RunKind)
	OnCongestionRejected(reason RejectReason)
	OnEstimate(bitrate float64)
	OnLoweringFactor(factor float64)
}

type noOpObserver struct{}

func (noOpObserver) OnBitrateUpdate(UpdateReason, int) {}
func (noOpObserver) OnRunStarted(RunKind)              {}
func (noOpObserver) OnCongestionRejected(RejectReason) {}
func (noOpObserver) OnEstimate(float64)                {}
func (noOpObserver) OnLoweringFactor(float64)          {}
