package bot

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"route-runner/bot/internal/geom"
)

// Clock abstracts wall time so loops are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type cmdKind uint8

const (
	cmdStart cmdKind = iota + 1
	cmdStop
	cmdPause
	cmdResume
	cmdForceIndex
	cmdSetIndex
	cmdSeek
	cmdHold
	cmdRelease
)

type command struct {
	kind   cmdKind
	index  int
	delta  int
	sticky bool
}

// StatusSnapshot is the status surface published after every tick: what the
// panel renders and what AfterTick consumers receive. Built on the tick
// goroutine, read anywhere.
type StatusSnapshot struct {
	Running       bool            `json:"running"`
	Paused        bool            `json:"paused"`
	DangerHold    bool            `json:"dangerHold"`
	MissionState  string          `json:"missionState"`
	DangerState   string          `json:"dangerState"`
	Mode          string          `json:"mode"`
	Status        string          `json:"status"`
	Route         string          `json:"route"`
	CurrentIndex  int             `json:"currentIndex"`
	Waypoint      geom.Vec2       `json:"waypoint"`
	WaypointCount int             `json:"waypointCount"`
	Hold          bool            `json:"hold"`
	Target        uint64          `json:"target"`
	Counters      CommandCounters `json:"counters"`
	Stats         RunStatsView    `json:"stats"`
	ServerTime    int64           `json:"serverTime"`
}

// RunnerDeps wires the runner over an assembled mission.
type RunnerDeps struct {
	Mission *Mission
	// Loading gates every tick: while the host reports a world transition,
	// driver state is void and the mission is not advanced.
	Loading   func() bool
	Clock     Clock
	TickRate  int // ticks per second, DefaultTickRate when zero
	Log       zerolog.Logger
	AfterTick func(StatusSnapshot)
}

// Runner owns the tick loop. All engine state is mutated on the tick
// goroutine only; external control goes through a mutex-guarded command
// queue drained at the start of each tick.
type Runner struct {
	mission    *Mission
	controller *Controller
	ctx        *MissionContext
	mover      Mover
	loading    func() bool
	clock      Clock
	tickRate   int
	log        zerolog.Logger
	metrics    *botMetrics
	afterTick  func(StatusSnapshot)

	mu    sync.Mutex
	queue []command
	last  StatusSnapshot
}

// NewRunner builds the runner and registers the meters. Metric registration
// failures degrade to unmetered operation.
func NewRunner(deps RunnerDeps) *Runner {
	r := &Runner{
		mission:    deps.Mission,
		controller: deps.Mission.controller,
		ctx:        deps.Mission.ctx,
		mover:      deps.Mission.mover,
		loading:    deps.Loading,
		clock:      deps.Clock,
		tickRate:   deps.TickRate,
		log:        deps.Log.With().Str("component", "runner").Logger(),
		afterTick:  deps.AfterTick,
	}
	if r.clock == nil {
		r.clock = systemClock{}
	}
	if r.loading == nil {
		r.loading = deps.Mission.hooks.Loading
	}

	metrics, err := newBotMetrics()
	if err != nil {
		r.log.Warn().Err(err).Msg("metrics disabled")
	} else {
		r.metrics = metrics
		r.controller.metrics = metrics
		r.mission.metrics = metrics
		if err := metrics.registerIndexGauge(func() int64 {
			return int64(r.Snapshot().CurrentIndex)
		}); err != nil {
			r.log.Warn().Err(err).Msg("index gauge unavailable")
		}
	}
	return r
}

// Start queues a run start. Applied on the next tick.
func (r *Runner) Start() { r.enqueue(command{kind: cmdStart}) }

// Stop queues a run stop.
func (r *Runner) Stop() { r.enqueue(command{kind: cmdStop}) }

// Pause queues an external pause.
func (r *Runner) Pause() { r.enqueue(command{kind: cmdPause}) }

// Resume queues a resume of an external pause.
func (r *Runner) Resume() { r.enqueue(command{kind: cmdResume}) }

// ForceIndex queues a forced move to the given waypoint.
func (r *Runner) ForceIndex(idx int, sticky bool) {
	r.enqueue(command{kind: cmdForceIndex, index: idx, sticky: sticky})
}

// SetIndex queues a silent cursor resync.
func (r *Runner) SetIndex(idx int) { r.enqueue(command{kind: cmdSetIndex, index: idx}) }

// Seek queues a relative forced move.
func (r *Runner) Seek(delta int, sticky bool) {
	r.enqueue(command{kind: cmdSeek, delta: delta, sticky: sticky})
}

// Hold queues a cursor pin at the current waypoint.
func (r *Runner) Hold() { r.enqueue(command{kind: cmdHold}) }

// Release queues a hold release.
func (r *Runner) Release() { r.enqueue(command{kind: cmdRelease}) }

func (r *Runner) enqueue(cmd command) {
	r.mu.Lock()
	r.queue = append(r.queue, cmd)
	r.mu.Unlock()
}

func (r *Runner) drain() []command {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil
	}
	cmds := r.queue
	r.queue = nil
	return cmds
}

func (r *Runner) apply(cmd command, now time.Time) {
	switch cmd.kind {
	case cmdStart:
		if r.ctx.running {
			return
		}
		r.mission.Start(now)
	case cmdStop:
		if !r.ctx.running {
			return
		}
		r.mission.Stop()
	case cmdPause:
		if !r.ctx.running {
			return
		}
		r.mission.Pause()
	case cmdResume:
		r.mission.Resume()
	case cmdForceIndex:
		r.controller.ForceMoveToIndex(cmd.index, cmd.sticky)
	case cmdSetIndex:
		r.controller.SetActiveIndex(cmd.index)
	case cmdSeek:
		r.controller.SeekRelative(cmd.delta, cmd.sticky)
	case cmdHold:
		r.controller.EnableHold()
	case cmdRelease:
		r.controller.ReleaseHold()
	}
}

// Tick runs one frame: drain queued commands, gate on run and load state,
// then advance the mission. A fresh snapshot is stored and published after
// every tick, active or idle.
func (r *Runner) Tick(now time.Time) {
	r.metrics.tick()
	for _, cmd := range r.drain() {
		r.apply(cmd, now)
	}

	if r.ctx.running && !r.ctx.paused {
		if r.loading() {
			// World transition: driver state is void until the zone loads.
			r.mover.Reset()
		} else {
			r.mission.Tick(now)
			if r.mission.Finished() && r.ctx.running {
				r.ctx.finishRun()
				r.log.Info().Str("route", r.mission.RouteName()).Msg("run finished")
			}
		}
	}

	snap := r.buildSnapshot(now)
	r.mu.Lock()
	r.last = snap
	r.mu.Unlock()
	if r.afterTick != nil {
		r.afterTick(snap)
	}
}

// Run drives the loop at the configured rate until stop closes.
func (r *Runner) Run(stop <-chan struct{}) {
	rate := r.tickRate
	if rate <= 0 {
		rate = DefaultTickRate
	}
	interval := time.Second / time.Duration(rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.log.Info().Dur("interval", interval).Msg("loop started")
	for {
		select {
		case <-stop:
			r.log.Info().Msg("loop stopped")
			return
		case <-ticker.C:
			r.Tick(r.clock.Now())
		}
	}
}

// Snapshot returns the last published snapshot. Safe from any goroutine.
func (r *Runner) Snapshot() StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Runner) buildSnapshot(now time.Time) StatusSnapshot {
	wp, _ := r.controller.CurrentWaypoint()
	return StatusSnapshot{
		Running:       r.ctx.running,
		Paused:        r.ctx.paused,
		DangerHold:    r.ctx.combatStarted,
		MissionState:  r.mission.StateName(),
		DangerState:   r.mission.DangerState(),
		Mode:          r.controller.Mode().String(),
		Status:        r.controller.StatusMessage(),
		Route:         r.mission.RouteName(),
		CurrentIndex:  r.controller.CurrentIndex(),
		Waypoint:      wp,
		WaypointCount: len(r.controller.Waypoints()),
		Hold:          r.controller.Hold(),
		Target:        uint64(r.controller.Target()),
		Counters:      r.controller.Counters(),
		Stats:         r.ctx.StatsView(now),
		ServerTime:    now.UnixMilli(),
	}
}
