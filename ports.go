// Package bot fuses waypoint traversal with aggro combat behind a pair of
// host-supplied ports. The package owns no wire protocol, file format or
// rendering; hosts plug in a motion driver and a sensing layer and tick the
// runner once per frame.
package bot

import (
	"route-runner/bot/internal/geom"
	"route-runner/bot/internal/scan"
)

// EntityID identifies a sensed entity. Zero means none.
type EntityID = scan.EntityID

// Hostile is one sensed entity: id, position and aliveness.
type Hostile = scan.Hostile

// Mover is the movement port: the host's motion driver, consumed but never
// implemented by this package. Commands are non-blocking; there is nothing
// to cancel, only guards re-evaluated next tick. Errors mean the driver
// rejected the command; the controller absorbs them into status text.
type Mover interface {
	// MoveTo commands movement toward a point and implies following.
	MoveTo(pt geom.Vec2) error
	// Halt stops following without clearing driver state.
	Halt()
	// Following reports whether the driver is executing a move command.
	Following() bool
	// Arrived reports the driver's settable arrival latch.
	Arrived() bool
	SetArrived(arrived bool)
	// Reset clears all driver state, including the arrival latch.
	Reset()
	// Pause and Resume freeze the driver; both are idempotent.
	Pause()
	Resume()
	// Update is the driver's per-tick integration hook. The controller
	// calls it exactly once at the end of every tick.
	Update()
}

// Sensor is the sensing port: reports hostiles around a position. A nil or
// failed report is "nothing sensed this tick", never an escalated error.
type Sensor interface {
	NearbyHostiles(pos geom.Vec2, radius float64) ([]Hostile, error)
}

// Targeter is the target-selection port used while in combat. The
// controller issues at most one SetTarget per target change.
type Targeter interface {
	SetTarget(id EntityID) error
}
