package bot

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"route-runner/bot/internal/geom"
)

func newRunnerFixture(wps []geom.Vec2) (*Runner, *missionFixture) {
	fx := newMissionFixture(wps, nil)
	fx.script.explorable = true
	r := NewRunner(RunnerDeps{Mission: fx.mission, Log: zerolog.Nop()})
	return r, fx
}

// rtick drives the runner on the fixture's one-second frame clock.
func rtick(r *Runner, fx *missionFixture) {
	fx.now = fx.now.Add(time.Second)
	r.Tick(fx.now)
}

func TestRunnerStartAppliesOnTick(t *testing.T) {
	r, fx := newRunnerFixture([]geom.Vec2{vec(0, 0), vec(100, 0)})

	r.Start()
	if fx.mission.Context().Running() {
		t.Fatal("start applied before the tick drained it")
	}

	rtick(r, fx)
	snap := r.Snapshot()
	if !snap.Running {
		t.Fatal("not running after the start tick")
	}
	if snap.MissionState != "travel to start" {
		t.Fatalf("mission state = %q", snap.MissionState)
	}
	if snap.Route != "test-route" || snap.WaypointCount != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.ServerTime != fx.now.UnixMilli() {
		t.Fatalf("serverTime = %d, want %d", snap.ServerTime, fx.now.UnixMilli())
	}
}

func TestRunnerStopIsIdempotent(t *testing.T) {
	r, fx := newRunnerFixture([]geom.Vec2{vec(0, 0), vec(5000, 0)})

	r.Start()
	rtick(r, fx)
	r.Stop()
	r.Stop()
	rtick(r, fx)

	snap := r.Snapshot()
	if snap.Running {
		t.Fatal("still running after stop")
	}
	if snap.MissionState != "idle" {
		t.Fatalf("mission state = %q", snap.MissionState)
	}
	if got := fx.mission.Context().runsAttempted; got != 1 {
		t.Fatalf("attempted = %d, want a single counted attempt", got)
	}
}

func TestRunnerLoadingResetsDriver(t *testing.T) {
	r, fx := newRunnerFixture([]geom.Vec2{vec(0, 0), vec(5000, 0)})

	r.Start()
	for i := 0; i < 12; i++ {
		rtick(r, fx)
	}
	if r.Snapshot().MissionState != "run route" {
		t.Fatalf("mission state = %q, want run route", r.Snapshot().MissionState)
	}
	stateBefore := r.Snapshot().MissionState
	resetsBefore := fx.mover.resets

	fx.script.loading = true
	rtick(r, fx)
	rtick(r, fx)

	if fx.mover.resets <= resetsBefore {
		t.Fatal("driver not reset during load")
	}
	if got := r.Snapshot().MissionState; got != stateBefore {
		t.Fatalf("mission advanced to %q during load", got)
	}

	fx.script.loading = false
	movesBefore := len(fx.mover.moves)
	rtick(r, fx)
	if len(fx.mover.moves) <= movesBefore {
		t.Fatal("mission did not resume after load")
	}
}

func TestRunnerDebugCommands(t *testing.T) {
	r, fx := newRunnerFixture([]geom.Vec2{vec(0, 0), vec(100, 0), vec(200, 0)})

	r.ForceIndex(1, true)
	rtick(r, fx)
	snap := r.Snapshot()
	if snap.CurrentIndex != 1 || !snap.Hold {
		t.Fatalf("snapshot = index %d hold %v, want pinned at 1", snap.CurrentIndex, snap.Hold)
	}
	if snap.Waypoint != vec(100, 0) {
		t.Fatalf("snapshot waypoint = %v, want the forced one", snap.Waypoint)
	}

	r.Release()
	r.SetIndex(0)
	rtick(r, fx)
	snap = r.Snapshot()
	if snap.CurrentIndex != 0 || snap.Hold {
		t.Fatalf("snapshot = index %d hold %v, want released at 0", snap.CurrentIndex, snap.Hold)
	}

	r.Seek(2, false)
	rtick(r, fx)
	if got := r.Snapshot().CurrentIndex; got != 2 {
		t.Fatalf("index = %d after seek, want 2", got)
	}

	r.Hold()
	rtick(r, fx)
	if !r.Snapshot().Hold {
		t.Fatal("hold command not applied")
	}
	if fx.mission.Context().Running() {
		t.Fatal("debug commands must not start a run")
	}
}

func TestRunnerPauseResume(t *testing.T) {
	r, fx := newRunnerFixture([]geom.Vec2{vec(0, 0), vec(5000, 0)})

	r.Start()
	for i := 0; i < 12; i++ {
		rtick(r, fx)
	}
	r.Pause()
	rtick(r, fx)
	if snap := r.Snapshot(); !snap.Paused {
		t.Fatal("not paused")
	}

	frozen := len(fx.mover.moves)
	for i := 0; i < 3; i++ {
		rtick(r, fx)
	}
	if len(fx.mover.moves) != frozen {
		t.Fatal("mission advanced while paused")
	}

	r.Resume()
	rtick(r, fx)
	if snap := r.Snapshot(); snap.Paused {
		t.Fatal("still paused after resume")
	}
}

func TestRunnerCompletesAndStopsRun(t *testing.T) {
	r, fx := newRunnerFixture([]geom.Vec2{vec(0, 0), vec(100, 0)})

	r.Start()
	for i := 0; i < 11; i++ { // through travel, waits and setup
		rtick(r, fx)
	}
	if got := r.Snapshot().MissionState; got != "run route" {
		t.Fatalf("mission state = %q before traversal", got)
	}

	rtick(r, fx) // walk to (0,0)
	fx.pos = vec(0, 0)
	rtick(r, fx) // fluid advance to (100,0)
	fx.pos = vec(100, 0)
	rtick(r, fx) // arrive
	rtick(r, fx) // record and finish

	snap := r.Snapshot()
	if snap.Running {
		t.Fatal("runner kept the run alive past completion")
	}
	if snap.MissionState != "finished" {
		t.Fatalf("mission state = %q", snap.MissionState)
	}
	if snap.Stats.RunsCompleted != 1 || len(fx.results) != 1 {
		t.Fatalf("completed = %d results = %d", snap.Stats.RunsCompleted, len(fx.results))
	}
}

func TestRunnerAfterTickPublishes(t *testing.T) {
	fx := newMissionFixture([]geom.Vec2{vec(0, 0)}, nil)
	var seen []StatusSnapshot
	r := NewRunner(RunnerDeps{
		Mission:   fx.mission,
		Log:       zerolog.Nop(),
		AfterTick: func(s StatusSnapshot) { seen = append(seen, s) },
	})

	rtick(r, fx)
	rtick(r, fx)

	if len(seen) != 2 {
		t.Fatalf("afterTick ran %d times, want 2", len(seen))
	}
	if seen[1] != r.Snapshot() {
		t.Fatal("published snapshot differs from the stored one")
	}
}

func TestRunLoopTicksUntilStopped(t *testing.T) {
	fx := newMissionFixture([]geom.Vec2{vec(0, 0)}, nil)
	r := NewRunner(RunnerDeps{Mission: fx.mission, Log: zerolog.Nop(), TickRate: 200})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		r.Run(stop)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for r.Snapshot().ServerTime == 0 {
		select {
		case <-deadline:
			t.Fatal("loop never ticked")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	close(stop)
	<-done
}
