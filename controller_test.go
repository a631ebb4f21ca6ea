package bot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"route-runner/bot/internal/geom"
	"route-runner/bot/internal/route"
	"route-runner/bot/internal/trigger"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// step is wide enough to defeat the scan throttle, so every tick that wants
// a fresh sample gets one.
const step = 600 * time.Millisecond

func at(i int) time.Time { return t0.Add(time.Duration(i) * step) }

type fakeMover struct {
	moves     []geom.Vec2
	following bool
	arrived   bool
	paused    bool
	halts     int
	updates   int
	resets    int
	moveErr   error
}

func (m *fakeMover) MoveTo(pt geom.Vec2) error {
	if m.moveErr != nil {
		return m.moveErr
	}
	m.moves = append(m.moves, pt)
	m.following = true
	m.arrived = false
	return nil
}

func (m *fakeMover) Halt()             { m.halts++; m.following = false }
func (m *fakeMover) Following() bool   { return m.following }
func (m *fakeMover) Arrived() bool     { return m.arrived }
func (m *fakeMover) SetArrived(a bool) { m.arrived = a }
func (m *fakeMover) Reset()            { m.resets++; m.following = false; m.arrived = false }
func (m *fakeMover) Pause()            { m.paused = true }
func (m *fakeMover) Resume()           { m.paused = false }
func (m *fakeMover) Update()           { m.updates++ }

type fakeSensor struct {
	hostiles []Hostile
	err      error
	calls    int
}

func (s *fakeSensor) NearbyHostiles(pos geom.Vec2, radius float64) ([]Hostile, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.hostiles, nil
}

type fakeTargeter struct {
	targets []EntityID
	err     error
}

func (tg *fakeTargeter) SetTarget(id EntityID) error {
	if tg.err != nil {
		return tg.err
	}
	tg.targets = append(tg.targets, id)
	return nil
}

type ctlFixture struct {
	ctl      *Controller
	mover    *fakeMover
	sensor   *fakeSensor
	targeter *fakeTargeter
}

func newFixture(cfg ControllerConfig, wps ...geom.Vec2) *ctlFixture {
	f := &ctlFixture{
		mover:    &fakeMover{},
		sensor:   &fakeSensor{},
		targeter: &fakeTargeter{},
	}
	f.ctl = NewController(cfg, ControllerDeps{
		Cursor:   route.NewCursor(route.FlatRoute(wps)),
		Mover:    f.mover,
		Sensor:   f.sensor,
		Targeter: f.targeter,
		Log:      zerolog.Nop(),
	})
	return f
}

func vec(x, y float64) geom.Vec2 { return geom.Vec2{X: x, Y: y} }

func TestPathMovesToFirstWaypoint(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0), vec(100, 0), vec(200, 0))

	f.ctl.Tick(at(0), vec(5, 5))

	if len(f.mover.moves) != 1 || f.mover.moves[0] != vec(0, 0) {
		t.Fatalf("moves = %v, want [(0,0)]", f.mover.moves)
	}
	if got := f.ctl.StatusMessage(); got != "Moving to (0, 0)" {
		t.Fatalf("status = %q", got)
	}
	if f.mover.updates != 1 {
		t.Fatalf("updates = %d, want 1", f.mover.updates)
	}
	if got := f.ctl.CurrentIndex(); got != 0 {
		t.Fatalf("CurrentIndex() = %d, want 0", got)
	}
}

func TestAdvanceThresholds(t *testing.T) {
	cases := []struct {
		name    string
		dist    float64
		advance bool
	}{
		{"inside fluid window", 300, true},
		{"beyond fluid window", 400, false},
		{"inside hard tolerance", 240, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(ControllerConfig{ArrivalTolerance: 250}, vec(0, 0), vec(1000, 0))

			f.ctl.Tick(at(0), vec(tc.dist, 0)) // walks to (0,0), tracked waypoint set
			f.ctl.Tick(at(1), vec(tc.dist, 0))

			advanced := len(f.mover.moves) == 2
			if advanced != tc.advance {
				t.Fatalf("dist %.0f: moves = %v, want advance=%v", tc.dist, f.mover.moves, tc.advance)
			}
			if tc.advance {
				if f.mover.moves[1] != vec(1000, 0) {
					t.Fatalf("advanced to %v, want (1000,0)", f.mover.moves[1])
				}
				if !strings.HasPrefix(f.ctl.StatusMessage(), "Flowing to next wp 2/2") {
					t.Fatalf("status = %q", f.ctl.StatusMessage())
				}
			}
		})
	}
}

func TestCombatIssuesEachCommandOnce(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0), vec(100, 0))
	f.sensor.hostiles = []Hostile{{ID: 7, Pos: vec(500, 0), Alive: true}}

	f.ctl.Tick(at(0), vec(0, 0))
	if f.ctl.Mode() != ModeCombat {
		t.Fatalf("mode = %v, want combat", f.ctl.Mode())
	}
	if got := f.ctl.StatusMessage(); got != "Switching to combat mode." {
		t.Fatalf("status = %q", got)
	}

	for i := 1; i <= 4; i++ {
		f.ctl.Tick(at(i), vec(0, 0))
	}

	if len(f.targeter.targets) != 1 || f.targeter.targets[0] != 7 {
		t.Fatalf("targets = %v, want exactly one SetTarget(7)", f.targeter.targets)
	}
	if len(f.mover.moves) != 1 || f.mover.moves[0] != vec(500, 0) {
		t.Fatalf("moves = %v, want exactly one MoveTo(500,0)", f.mover.moves)
	}
	if got := f.ctl.StatusMessage(); got != "Closing in on enemy at (500, 0)" {
		t.Fatalf("status = %q", got)
	}
}

func TestCombatMoveDedupesOnIntegerGrid(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0))
	f.sensor.hostiles = []Hostile{{ID: 3, Pos: vec(500.4, 0), Alive: true}}

	f.ctl.Tick(at(0), vec(0, 0)) // switch to combat
	f.ctl.Tick(at(1), vec(0, 0)) // first combat command pair

	f.sensor.hostiles[0].Pos = vec(500.9, 0) // same integer cell
	f.ctl.Tick(at(2), vec(0, 0))
	if len(f.mover.moves) != 1 {
		t.Fatalf("moves = %v, sub-unit drift must not re-issue", f.mover.moves)
	}

	f.sensor.hostiles[0].Pos = vec(501.2, 0) // new cell
	f.ctl.Tick(at(3), vec(0, 0))
	if len(f.mover.moves) != 2 {
		t.Fatalf("moves = %v, want a second command after crossing the grid", f.mover.moves)
	}
}

func TestKillReturnsToPath(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0), vec(100, 0))
	f.sensor.hostiles = []Hostile{{ID: 9, Pos: vec(400, 0), Alive: true}}

	f.ctl.Tick(at(0), vec(0, 0))
	f.ctl.Tick(at(1), vec(0, 0))

	f.sensor.hostiles[0].Alive = false
	f.ctl.Tick(at(2), vec(0, 0))

	if f.ctl.Mode() != ModePath {
		t.Fatalf("mode = %v, want path after the kill", f.ctl.Mode())
	}
	if got := f.ctl.StatusMessage(); got != "Combat done. Switching to path mode." {
		t.Fatalf("status = %q", got)
	}
	if got := f.ctl.Counters().Kills; got != 1 {
		t.Fatalf("kills = %d, want 1", got)
	}
	if got := f.ctl.Target(); got != 0 {
		t.Fatalf("target = %d, want cleared", got)
	}
}

func TestVanishedTargetIsNotAKill(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0))
	f.sensor.hostiles = []Hostile{{ID: 9, Pos: vec(400, 0), Alive: true}}

	f.ctl.Tick(at(0), vec(0, 0))
	f.ctl.Tick(at(1), vec(0, 0))

	f.sensor.hostiles = nil
	f.ctl.Tick(at(2), vec(0, 0))

	if f.ctl.Mode() != ModePath {
		t.Fatalf("mode = %v, want path", f.ctl.Mode())
	}
	if got := f.ctl.StatusMessage(); got != "No enemies on throttled scan. Returning to path." {
		t.Fatalf("status = %q", got)
	}
	if got := f.ctl.Counters().Kills; got != 0 {
		t.Fatalf("kills = %d, want 0 for a vanished target", got)
	}
}

func TestReengagingSameTargetSkipsTargetCommand(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0))
	f.sensor.hostiles = []Hostile{{ID: 5, Pos: vec(400, 0), Alive: true}}

	f.ctl.Tick(at(0), vec(0, 0))
	f.ctl.Tick(at(1), vec(0, 0))

	f.sensor.hostiles = nil // drops back to path
	f.ctl.Tick(at(2), vec(0, 0))

	f.sensor.hostiles = []Hostile{{ID: 5, Pos: vec(400, 0), Alive: true}}
	f.ctl.Tick(at(3), vec(0, 0)) // back to combat
	f.ctl.Tick(at(4), vec(0, 0))

	if len(f.targeter.targets) != 1 {
		t.Fatalf("targets = %v, re-engaging the same id must not re-issue", f.targeter.targets)
	}
}

func TestWaypointCreditDuringCombat(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0), vec(100, 0), vec(200, 0))

	f.ctl.Tick(at(0), vec(0, 0))  // move to (0,0)
	f.ctl.Tick(at(1), vec(10, 0)) // fluid advance to (100,0)

	f.sensor.hostiles = []Hostile{{ID: 4, Pos: vec(150, 0), Alive: true}}
	f.ctl.Tick(at(2), vec(50, 0)) // path scan flips to combat

	f.ctl.Tick(at(3), vec(95, 0)) // fighting on top of waypoint 1

	if got := f.ctl.CurrentIndex(); got != 2 {
		t.Fatalf("CurrentIndex() = %d, want waypoint credited during combat", got)
	}
	if f.ctl.Mode() != ModeCombat {
		t.Fatalf("mode = %v, want still combat", f.ctl.Mode())
	}
	// Credit must not command movement toward the waypoint.
	last := f.mover.moves[len(f.mover.moves)-1]
	if last != vec(150, 0) {
		t.Fatalf("last move = %v, want the enemy position", last)
	}
}

func TestForceMoveHoldPinsCursor(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0), vec(100, 0), vec(200, 0))

	if !f.ctl.ForceMoveToIndex(1, true) {
		t.Fatal("ForceMoveToIndex returned false")
	}
	if got := f.ctl.StatusMessage(); !strings.Contains(got, "[HOLD]") {
		t.Fatalf("status = %q, want hold tag", got)
	}
	if got := f.ctl.CurrentIndex(); got != 1 {
		t.Fatalf("CurrentIndex() = %d, want 1", got)
	}

	// Next tick consumes the pending forced index and re-issues the move.
	f.ctl.Tick(at(0), vec(100, 0))
	if !strings.HasPrefix(f.ctl.StatusMessage(), "[DEBUG] Holding at wp 2/3") {
		t.Fatalf("status = %q", f.ctl.StatusMessage())
	}

	// Sitting on the waypoint while holding must not advance.
	before := len(f.mover.moves)
	for i := 1; i <= 3; i++ {
		f.ctl.Tick(at(i), vec(100, 0))
	}
	if len(f.mover.moves) != before {
		t.Fatalf("moves grew to %v while holding", f.mover.moves)
	}
	if got := f.ctl.CurrentIndex(); got != 1 {
		t.Fatalf("CurrentIndex() = %d, want pinned at 1", got)
	}

	f.ctl.ReleaseHold()
	f.ctl.Tick(at(4), vec(100, 0))
	if last := f.mover.moves[len(f.mover.moves)-1]; last != vec(200, 0) {
		t.Fatalf("after release last move = %v, want (200,0)", last)
	}
}

func TestSetActiveIndexResyncs(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0), vec(100, 0), vec(200, 0))
	f.ctl.ForceMoveToIndex(2, true)

	if !f.ctl.SetActiveIndex(0) {
		t.Fatal("SetActiveIndex returned false")
	}
	if f.ctl.Hold() {
		t.Fatal("hold survived SetActiveIndex")
	}
	if got := f.ctl.CurrentIndex(); got != 0 {
		t.Fatalf("CurrentIndex() = %d, want 0", got)
	}
	if got := f.ctl.StatusMessage(); got != "[DEBUG] Set active index to 1/3" {
		t.Fatalf("status = %q", got)
	}

	moves := len(f.mover.moves)
	f.ctl.Tick(at(0), vec(0, 0))
	if len(f.mover.moves) != moves+1 || f.mover.moves[moves] != vec(100, 0) {
		t.Fatalf("moves = %v, want traversal to resume after index 0", f.mover.moves)
	}
}

func TestSeekRelativeClamps(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0), vec(100, 0), vec(200, 0))
	f.ctl.Tick(at(0), vec(0, 0)) // index 0

	if !f.ctl.SeekRelative(5, false) {
		t.Fatal("SeekRelative returned false")
	}
	if got := f.ctl.CurrentIndex(); got != 2 {
		t.Fatalf("CurrentIndex() = %d, want clamp to last", got)
	}

	if !f.ctl.SeekRelative(-10, false) {
		t.Fatal("SeekRelative returned false")
	}
	if got := f.ctl.CurrentIndex(); got != 0 {
		t.Fatalf("CurrentIndex() = %d, want clamp to first", got)
	}
}

func TestEmptyRouteIsInert(t *testing.T) {
	f := newFixture(ControllerConfig{})

	f.ctl.Tick(at(0), vec(0, 0))
	if got := f.ctl.StatusMessage(); got != "No waypoints available." {
		t.Fatalf("status = %q", got)
	}
	if f.sensor.calls != 0 || len(f.mover.moves) != 0 || f.mover.updates != 0 {
		t.Fatalf("empty route touched ports: scans=%d moves=%v updates=%d",
			f.sensor.calls, f.mover.moves, f.mover.updates)
	}
	if f.ctl.ForceMoveToIndex(0, false) || f.ctl.SetActiveIndex(1) || f.ctl.SeekRelative(1, false) {
		t.Fatal("debug operations must refuse on an empty route")
	}
	if got := f.ctl.CurrentIndex(); got != -1 {
		t.Fatalf("CurrentIndex() = %d, want -1", got)
	}
	if !f.ctl.Finished() {
		t.Fatal("empty route should be trivially finished")
	}
}

func TestLostCurrentPointRecovers(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0), vec(100, 0))
	f.mover.following = true // driver busy, but nothing tracked yet

	f.ctl.Tick(at(0), vec(0, 0))

	if got := f.ctl.StatusMessage(); got != "Lost current path point, hang on a second" {
		t.Fatalf("status = %q", got)
	}
	if f.mover.halts != 1 {
		t.Fatalf("halts = %d, want 1", f.mover.halts)
	}

	// The halt cleared following, so the next tick advances normally.
	f.ctl.Tick(at(1), vec(0, 0))
	if len(f.mover.moves) != 1 || f.mover.moves[0] != vec(0, 0) {
		t.Fatalf("moves = %v, want recovery onto the route", f.mover.moves)
	}
}

func TestBusyGateSkipsEverything(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0))
	busy := true
	f.ctl.busy = func() bool { return busy }

	f.ctl.Tick(at(0), vec(0, 0))
	if got := f.ctl.StatusMessage(); got != "Waiting for looting to finish..." {
		t.Fatalf("status = %q", got)
	}
	if f.sensor.calls != 0 || len(f.mover.moves) != 0 {
		t.Fatalf("busy tick touched ports: scans=%d moves=%v", f.sensor.calls, f.mover.moves)
	}
	if f.mover.updates != 1 {
		t.Fatalf("updates = %d, the driver still integrates while busy", f.mover.updates)
	}

	busy = false
	f.ctl.Tick(at(1), vec(0, 0))
	if len(f.mover.moves) != 1 {
		t.Fatalf("moves = %v, want traversal to resume", f.mover.moves)
	}
}

func TestRallyTriggerFiresOncePerPoint(t *testing.T) {
	fired := 0
	tr := trigger.New(5*time.Second, func(geom.Vec2) { fired++ })
	f := &ctlFixture{mover: &fakeMover{}, sensor: &fakeSensor{}}
	f.ctl = NewController(ControllerConfig{}, ControllerDeps{
		Cursor:      route.NewCursor(route.FlatRoute{vec(0, 0), vec(100, 0)}),
		Mover:       f.mover,
		Sensor:      f.sensor,
		Rally:       tr,
		RallyPoints: []geom.Vec2{vec(50, 0)},
		Log:         zerolog.Nop(),
	})

	for i := 0; i <= 4; i++ {
		f.ctl.Tick(t0.Add(time.Duration(i)*time.Second), vec(0, 0))
	}
	if fired != 0 {
		t.Fatalf("fired = %d before the debounce elapsed", fired)
	}

	f.ctl.Tick(t0.Add(5*time.Second), vec(0, 0))
	if fired != 1 {
		t.Fatalf("fired = %d, want 1 at the debounce boundary", fired)
	}

	for i := 6; i <= 9; i++ {
		f.ctl.Tick(t0.Add(time.Duration(i)*time.Second), vec(0, 0))
	}
	if fired != 1 {
		t.Fatalf("fired = %d, confirmed points must stay confirmed", fired)
	}
	if !tr.Confirmed(vec(50, 0)) {
		t.Fatal("point not confirmed after firing")
	}
}

func TestScanErrorMeansNothingSensed(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0), vec(100, 0))
	f.sensor.err = errors.New("sensing layer offline")

	f.ctl.Tick(at(0), vec(0, 0))

	if f.ctl.Mode() != ModePath {
		t.Fatalf("mode = %v, want path", f.ctl.Mode())
	}
	if len(f.mover.moves) != 1 {
		t.Fatalf("moves = %v, traversal should continue through sensor errors", f.mover.moves)
	}
}

func TestTargetCommandFailureFallsBack(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0))
	f.sensor.hostiles = []Hostile{{ID: 2, Pos: vec(300, 0), Alive: true}}
	f.targeter.err = errors.New("target rejected")

	f.ctl.Tick(at(0), vec(0, 0)) // flips to combat
	f.ctl.Tick(at(1), vec(0, 0)) // combat tick hits the failing port

	if f.ctl.Mode() != ModePath {
		t.Fatalf("mode = %v, want path after port failure", f.ctl.Mode())
	}
	if got := f.ctl.StatusMessage(); got != "Target command failed. Returning to path." {
		t.Fatalf("status = %q", got)
	}
	if got := f.ctl.Target(); got != 0 {
		t.Fatalf("target = %d, want cleared", got)
	}
}

func TestArrivalAtFinalWaypoint(t *testing.T) {
	f := newFixture(ControllerConfig{ArrivalTolerance: 10}, vec(0, 0), vec(100, 0))

	f.ctl.Tick(at(0), vec(0, 0))   // move to (0,0)
	f.ctl.Tick(at(1), vec(0, 0))   // fluid advance to (100,0)
	f.ctl.Tick(at(2), vec(100, 0)) // on the final waypoint

	if !f.mover.arrived {
		t.Fatal("arrival latch not set")
	}
	if got := f.ctl.StatusMessage(); got != "Arrived at final waypoint." {
		t.Fatalf("status = %q", got)
	}
	if !f.ctl.Finished() {
		t.Fatal("Finished() = false at the final waypoint")
	}
}

func TestExhaustionRewindsOnce(t *testing.T) {
	f := newFixture(ControllerConfig{ArrivalTolerance: 10}, vec(0, 0), vec(100, 0))

	f.ctl.Tick(at(0), vec(0, 0))
	f.ctl.Tick(at(1), vec(0, 0))
	f.ctl.Tick(at(2), vec(100, 0)) // arrive, following drops

	f.ctl.Tick(at(3), vec(100, 0)) // exhausted advance rewinds to the start

	if got := f.ctl.StatusMessage(); got != "Path reset. Moving to (0, 0)" {
		t.Fatalf("status = %q", got)
	}
	if last := f.mover.moves[len(f.mover.moves)-1]; last != vec(0, 0) {
		t.Fatalf("last move = %v, want the route start", last)
	}
	if got := f.ctl.CurrentIndex(); got != 0 {
		t.Fatalf("CurrentIndex() = %d, want 0", got)
	}
}

func TestResetClearsRunState(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0), vec(100, 0))
	f.sensor.hostiles = []Hostile{{ID: 6, Pos: vec(200, 0), Alive: true}}

	f.ctl.Tick(at(0), vec(0, 0))
	f.ctl.Tick(at(1), vec(0, 0))

	f.ctl.Reset()

	if f.ctl.Mode() != ModePath {
		t.Fatalf("mode = %v, want path", f.ctl.Mode())
	}
	if got := f.ctl.Target(); got != 0 {
		t.Fatalf("target = %d, want 0", got)
	}
	if got := f.ctl.Counters(); got != (CommandCounters{}) {
		t.Fatalf("counters = %+v, want zeroed", got)
	}
	if got := f.ctl.StatusMessage(); got != "Waiting to begin..." {
		t.Fatalf("status = %q", got)
	}

	// Dedup state is part of the run: the same target earns a fresh command.
	f.ctl.Tick(at(2), vec(0, 0))
	f.ctl.Tick(at(3), vec(0, 0))
	if len(f.targeter.targets) != 2 {
		t.Fatalf("targets = %v, want a fresh command after reset", f.targeter.targets)
	}
}

func TestCurrentIndexFallsBackToNearest(t *testing.T) {
	f := newFixture(ControllerConfig{}, vec(0, 0), vec(100, 0), vec(200, 0))

	// Nothing advanced yet, no forced index: nearest to the player wins.
	f.mover.following = true // suppress the first advance
	f.ctl.Tick(at(0), vec(190, 0))

	if got := f.ctl.CurrentIndex(); got != 2 {
		t.Fatalf("CurrentIndex() = %d, want nearest waypoint", got)
	}
}
