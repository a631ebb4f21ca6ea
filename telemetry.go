package bot

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "route-runner/bot"

// botMetrics bundles the runner's OpenTelemetry instruments. Without a
// registered global meter provider every instrument is a no-op, so hosts
// that do not care about metrics pay nothing.
type botMetrics struct {
	meter metric.Meter

	ticks             metric.Int64Counter
	scans             metric.Int64Counter
	scansSuppressed   metric.Int64Counter
	targetSwitches    metric.Int64Counter
	moveCommands      metric.Int64Counter
	waypointsAdvanced metric.Int64Counter
	modeSwitches      metric.Int64Counter
	runsCompleted     metric.Int64Counter
}

func newBotMetrics() (*botMetrics, error) {
	m := &botMetrics{meter: otel.Meter(meterName)}

	var err error
	if m.ticks, err = m.meter.Int64Counter("runner.ticks",
		metric.WithDescription("Frames processed by the runner")); err != nil {
		return nil, fmt.Errorf("create tick counter: %w", err)
	}
	if m.scans, err = m.meter.Int64Counter("scanner.queries",
		metric.WithDescription("Hostile queries issued to the sensor")); err != nil {
		return nil, fmt.Errorf("create scan counter: %w", err)
	}
	if m.scansSuppressed, err = m.meter.Int64Counter("scanner.suppressed",
		metric.WithDescription("Scan calls answered from the cache")); err != nil {
		return nil, fmt.Errorf("create suppressed counter: %w", err)
	}
	if m.targetSwitches, err = m.meter.Int64Counter("controller.target_switches",
		metric.WithDescription("Target change commands sent")); err != nil {
		return nil, fmt.Errorf("create target counter: %w", err)
	}
	if m.moveCommands, err = m.meter.Int64Counter("controller.move_commands",
		metric.WithDescription("Movement commands sent")); err != nil {
		return nil, fmt.Errorf("create move counter: %w", err)
	}
	if m.waypointsAdvanced, err = m.meter.Int64Counter("controller.waypoints_advanced",
		metric.WithDescription("Waypoints consumed from the active route")); err != nil {
		return nil, fmt.Errorf("create waypoint counter: %w", err)
	}
	if m.modeSwitches, err = m.meter.Int64Counter("controller.mode_switches",
		metric.WithDescription("Path and combat mode transitions")); err != nil {
		return nil, fmt.Errorf("create mode counter: %w", err)
	}
	if m.runsCompleted, err = m.meter.Int64Counter("mission.runs_completed",
		metric.WithDescription("Full route laps recorded")); err != nil {
		return nil, fmt.Errorf("create run counter: %w", err)
	}
	return m, nil
}

// registerIndexGauge exposes the controller's active waypoint index. The
// callback runs on the metric reader's schedule, so current must be safe to
// call from another goroutine.
func (m *botMetrics) registerIndexGauge(current func() int64) error {
	if m == nil {
		return nil
	}
	gauge, err := m.meter.Int64ObservableGauge("controller.waypoint_index",
		metric.WithDescription("Active waypoint index, -1 when idle"))
	if err != nil {
		return fmt.Errorf("create index gauge: %w", err)
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, current())
		return nil
	}, gauge)
	if err != nil {
		return fmt.Errorf("register index gauge: %w", err)
	}
	return nil
}

func (m *botMetrics) tick() {
	if m == nil {
		return
	}
	m.ticks.Add(context.Background(), 1)
}

func (m *botMetrics) scan() {
	if m == nil {
		return
	}
	m.scans.Add(context.Background(), 1)
}

// scanSuppressed adds a whole reporting window's worth of suppressed calls;
// suppression never reaches the query wrapper, so it is flushed in bulk.
func (m *botMetrics) scanSuppressed(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.scansSuppressed.Add(context.Background(), int64(n))
}

func (m *botMetrics) targetSwitch() {
	if m == nil {
		return
	}
	m.targetSwitches.Add(context.Background(), 1)
}

func (m *botMetrics) moveCommand() {
	if m == nil {
		return
	}
	m.moveCommands.Add(context.Background(), 1)
}

func (m *botMetrics) waypointAdvanced() {
	if m == nil {
		return
	}
	m.waypointsAdvanced.Add(context.Background(), 1)
}

func (m *botMetrics) modeSwitch() {
	if m == nil {
		return
	}
	m.modeSwitches.Add(context.Background(), 1)
}

func (m *botMetrics) runCompleted() {
	if m == nil {
		return
	}
	m.runsCompleted.Add(context.Background(), 1)
}
