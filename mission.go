package bot

import (
	"time"

	"github.com/rs/zerolog"

	"route-runner/bot/internal/fsm"
	"route-runner/bot/internal/geom"
	"route-runner/bot/internal/route"
)

// State dwell times. Travel and zone waits debounce flapping host guards;
// the setup dwell gives one-shot host actions time to land before the run
// proper begins.
const (
	travelDwell     = time.Second
	loadDwell       = time.Second
	explorableDwell = time.Second
	setupDwell      = 5 * time.Second
)

// MissionHooks are the host integration points consulted by the mission
// machine. Every hook is optional; nil hooks behave as instantly satisfied
// so a bare mission degenerates to "run the route".
type MissionHooks struct {
	// TravelToStart commands travel to the route's start location. Repeated
	// each tick until AtStart holds; hosts dedup.
	TravelToStart func()
	// AtStart reports arrival at the start location.
	AtStart func() bool
	// Loading reports a world transition in progress.
	Loading func() bool
	// Explorable reports that the traversal zone is active.
	Explorable func() bool
	// InDanger feeds the danger monitor.
	InDanger func() bool
	// SetupAction is the one-shot pre-run action.
	SetupAction func()
	// SetupDone reports the setup as complete. Nil means done immediately
	// after the dwell.
	SetupDone func() bool
	// Busy gates the controller while the host is mid-action.
	Busy func() bool
}

func alwaysTrue() bool { return true }
func never() bool      { return false }

func (h MissionHooks) normalized() MissionHooks {
	if h.TravelToStart == nil {
		h.TravelToStart = func() {}
	}
	if h.AtStart == nil {
		h.AtStart = alwaysTrue
	}
	if h.Loading == nil {
		h.Loading = never
	}
	if h.Explorable == nil {
		h.Explorable = alwaysTrue
	}
	if h.InDanger == nil {
		h.InDanger = never
	}
	if h.SetupAction == nil {
		h.SetupAction = func() {}
	}
	if h.SetupDone == nil {
		h.SetupDone = alwaysTrue
	}
	return h
}

// RunResult captures one completed pass over the route.
type RunResult struct {
	Route          string
	StartedAt      time.Time
	EndedAt        time.Time
	Duration       time.Duration
	Completed      bool
	Waypoints      int
	Scans          uint64
	TargetSwitches uint64
	MoveCommands   uint64
	Kills          uint64
}

// MissionContext is the run bookkeeping that survives across starts: lap
// history, attempt counts and the shared pause and danger flags.
type MissionContext struct {
	running       bool
	paused        bool
	combatStarted bool

	firstStart time.Time
	lapStart   time.Time
	laps       []time.Duration
	minLap     time.Duration
	maxLap     time.Duration

	runsAttempted int
	runsCompleted int
}

func (ctx *MissionContext) beginRun(now time.Time) {
	ctx.running = true
	ctx.paused = false
	if ctx.firstStart.IsZero() {
		ctx.firstStart = now
	}
	ctx.lapStart = now
	ctx.runsAttempted++
}

func (ctx *MissionContext) completeLap(now time.Time) time.Duration {
	lap := now.Sub(ctx.lapStart)
	ctx.laps = append(ctx.laps, lap)
	if len(ctx.laps) == 1 || lap < ctx.minLap {
		ctx.minLap = lap
	}
	if lap > ctx.maxLap {
		ctx.maxLap = lap
	}
	ctx.runsCompleted++
	return lap
}

func (ctx *MissionContext) finishRun() {
	ctx.running = false
	ctx.paused = false
}

// Running reports whether a run is active.
func (ctx *MissionContext) Running() bool { return ctx.running }

// Paused reports whether the active run is externally paused.
func (ctx *MissionContext) Paused() bool { return ctx.paused }

// CombatInterrupt reports whether the danger monitor is holding the run.
func (ctx *MissionContext) CombatInterrupt() bool { return ctx.combatStarted }

// SuccessRate is completed over attempted, zero before the first attempt.
func (ctx *MissionContext) SuccessRate() float64 {
	if ctx.runsAttempted == 0 {
		return 0
	}
	return float64(ctx.runsCompleted) / float64(ctx.runsAttempted)
}

// RunStatsView is the panel-facing form of the run statistics. Durations
// are milliseconds.
type RunStatsView struct {
	RunsAttempted    int     `json:"runsAttempted"`
	RunsCompleted    int     `json:"runsCompleted"`
	SuccessRate      float64 `json:"successRate"`
	Laps             int     `json:"laps"`
	BestLapMillis    int64   `json:"bestLapMillis"`
	WorstLapMillis   int64   `json:"worstLapMillis"`
	AvgLapMillis     int64   `json:"avgLapMillis"`
	CurrentLapMillis int64   `json:"currentLapMillis"`
	TotalMillis      int64   `json:"totalMillis"`
}

// StatsView summarizes the context at now.
func (ctx *MissionContext) StatsView(now time.Time) RunStatsView {
	v := RunStatsView{
		RunsAttempted: ctx.runsAttempted,
		RunsCompleted: ctx.runsCompleted,
		SuccessRate:   ctx.SuccessRate(),
		Laps:          len(ctx.laps),
	}
	if len(ctx.laps) > 0 {
		v.BestLapMillis = ctx.minLap.Milliseconds()
		v.WorstLapMillis = ctx.maxLap.Milliseconds()
		var total time.Duration
		for _, lap := range ctx.laps {
			total += lap
		}
		v.AvgLapMillis = (total / time.Duration(len(ctx.laps))).Milliseconds()
	}
	if ctx.running && !ctx.lapStart.IsZero() {
		v.CurrentLapMillis = now.Sub(ctx.lapStart).Milliseconds()
	}
	if !ctx.firstStart.IsZero() {
		v.TotalMillis = now.Sub(ctx.firstStart).Milliseconds()
	}
	return v
}

// MissionDeps wires a mission over a controller and the host hooks.
type MissionDeps struct {
	Controller           *Controller
	Mover                Mover
	Position             func() geom.Vec2
	OutpostPath          []geom.Vec2
	RouteName            string
	Hooks                MissionHooks
	Log                  zerolog.Logger
	DisableDangerMonitor bool
	OnRunComplete        func(RunResult)
}

// Mission sequences one full run: travel to the start, cross the outpost,
// wait for the traversal zone, perform setup, run the controller, record
// the result. A parallel danger machine pauses the whole chain while the
// host reports danger and resumes it after standing down.
type Mission struct {
	ctx   *MissionContext
	hooks MissionHooks
	log   zerolog.Logger

	controller *Controller
	mover      Mover
	pos        func() geom.Vec2
	routeName  string
	outpost    *route.Cursor

	machine *fsm.Machine
	danger  *fsm.Machine

	dangerDisabled bool
	onRunComplete  func(RunResult)
	metrics        *botMetrics

	now time.Time
}

// NewMission assembles the mission and danger machines.
func NewMission(deps MissionDeps) *Mission {
	m := &Mission{
		ctx:            &MissionContext{},
		hooks:          deps.Hooks.normalized(),
		log:            deps.Log.With().Str("component", "mission").Logger(),
		controller:     deps.Controller,
		mover:          deps.Mover,
		pos:            deps.Position,
		routeName:      deps.RouteName,
		outpost:        route.NewCursor(route.FlatRoute(deps.OutpostPath)),
		dangerDisabled: deps.DisableDangerMonitor,
		onRunComplete:  deps.OnRunComplete,
	}
	if m.pos == nil {
		m.pos = func() geom.Vec2 { return geom.Vec2{} }
	}
	if deps.Hooks.Busy != nil && m.controller.busy == nil {
		m.controller.busy = deps.Hooks.Busy
	}
	m.machine = m.buildMissionMachine(deps.Log)
	m.danger = m.buildDangerMachine(deps.Log)
	return m
}

func (m *Mission) buildMissionMachine(log zerolog.Logger) *fsm.Machine {
	machine := fsm.New("mission")
	machine.SetLogger(log)

	machine.AddState(fsm.State{
		Name:            "travel to start",
		Execute:         m.hooks.TravelToStart,
		ExitCondition:   m.hooks.AtStart,
		TransitionDelay: travelDwell,
	})
	machine.AddState(fsm.State{
		Name:            "wait for load",
		ExitCondition:   func() bool { return !m.hooks.Loading() },
		TransitionDelay: loadDwell,
	})
	machine.AddState(fsm.State{
		Name:          "navigate outpost",
		Execute:       m.followOutpost,
		ExitCondition: func() bool { return m.outpostFinished() || m.hooks.Explorable() },
	})
	machine.AddState(fsm.State{
		Name:            "wait for explorable",
		ExitCondition:   func() bool { return !m.hooks.Loading() && m.hooks.Explorable() },
		TransitionDelay: explorableDwell,
	})
	machine.AddState(fsm.State{
		Name:            "setup",
		Execute:         m.hooks.SetupAction,
		ExitCondition:   m.hooks.SetupDone,
		RunOnce:         true,
		TransitionDelay: setupDwell,
	})
	machine.AddState(fsm.State{
		Name:          "run route",
		Execute:       func() { m.controller.Tick(m.now, m.pos()) },
		ExitCondition: m.controller.Finished,
	})
	machine.AddState(fsm.State{
		Name:          "record run",
		Execute:       m.recordRun,
		ExitCondition: alwaysTrue,
		RunOnce:       true,
	})
	return machine
}

func (m *Mission) buildDangerMachine(log zerolog.Logger) *fsm.Machine {
	interrupt := fsm.New("interrupt")
	interrupt.SetLogger(log)
	interrupt.AddState(fsm.State{
		Name:          "hold",
		Execute:       m.pauseAll,
		ExitCondition: func() bool { return !m.hooks.InDanger() },
	})
	interrupt.AddState(fsm.State{
		Name:          "stand down",
		Execute:       func() { m.ctx.combatStarted = false },
		ExitCondition: alwaysTrue,
		RunOnce:       true,
	})

	danger := fsm.New("danger")
	danger.SetLogger(log)
	danger.AddState(fsm.State{
		Name:          "watch",
		ExitCondition: m.hooks.InDanger,
	})
	danger.AddSubroutine("interrupt", m.hooks.InDanger, interrupt)
	danger.AddState(fsm.State{
		Name:          "resume",
		Execute:       m.resumeAll,
		ExitCondition: func() bool { return !m.hooks.InDanger() },
	})
	return danger
}

// pauseAll freezes the mission chain and the driver while danger holds.
// Idempotent; runs every interrupt tick.
func (m *Mission) pauseAll() {
	if !m.hooks.InDanger() {
		return
	}
	m.ctx.combatStarted = true
	if !m.machine.Paused() {
		m.log.Info().Str("state", m.machine.CurrentName()).Msg("danger detected, pausing mission")
		m.machine.Pause()
		m.mover.Pause()
	}
}

// resumeAll lifts the danger hold once the host reports safe. An external
// pause is not the monitor's to lift.
func (m *Mission) resumeAll() {
	if m.hooks.InDanger() || m.ctx.paused {
		return
	}
	if m.machine.Paused() {
		m.log.Info().Msg("danger cleared, resuming mission")
		m.machine.Resume()
		m.mover.Resume()
	}
}

// followOutpost walks the outpost approach path. Plain follow, no combat:
// advance whenever the driver is idle.
func (m *Mission) followOutpost() {
	if m.outpost.Len() == 0 || m.mover.Following() {
		return
	}
	pt, ok := m.outpost.Advance()
	if !ok {
		return
	}
	if err := m.mover.MoveTo(pt); err != nil {
		m.log.Debug().Err(err).Str("waypoint", pt.String()).Msg("outpost move rejected")
	}
}

func (m *Mission) outpostFinished() bool {
	if m.outpost.Len() == 0 {
		return true
	}
	idx, ok := m.outpost.Index()
	return ok && idx == m.outpost.Len()-1 && !m.mover.Following()
}

func (m *Mission) recordRun() {
	lap := m.ctx.completeLap(m.now)
	counters := m.controller.Counters()
	res := RunResult{
		Route:          m.routeName,
		StartedAt:      m.now.Add(-lap),
		EndedAt:        m.now,
		Duration:       lap,
		Completed:      true,
		Waypoints:      int(counters.Advances),
		Scans:          counters.Scans,
		TargetSwitches: counters.TargetSwitches,
		MoveCommands:   counters.MoveCommands,
		Kills:          counters.Kills,
	}
	m.metrics.runCompleted()
	m.log.Info().
		Str("route", m.routeName).
		Dur("lap", lap).
		Int("waypoints", res.Waypoints).
		Uint64("kills", res.Kills).
		Msg("run recorded")
	if m.onRunComplete != nil {
		m.onRunComplete(res)
	}
}

// Start resets the environment and arms both machines for a fresh run.
func (m *Mission) Start(now time.Time) {
	m.resetEnvironment()
	m.ctx.beginRun(now)
	m.machine.Reset()
	m.machine.Start(now)
	if !m.dangerDisabled {
		m.danger.Reset()
		m.danger.Start(now)
	}
	m.log.Info().Str("route", m.routeName).Int("attempt", m.ctx.runsAttempted).Msg("mission started")
}

// Stop disarms both machines and clears run state. The attempt stays
// counted; an aborted run is never a completion.
func (m *Mission) Stop() {
	m.ctx.finishRun()
	m.machine.Stop()
	m.danger.Stop()
	m.resetEnvironment()
	m.log.Info().Msg("mission stopped")
}

// Pause freezes both machines and the driver. Idempotent.
func (m *Mission) Pause() {
	if m.ctx.paused {
		return
	}
	m.ctx.paused = true
	m.machine.Pause()
	m.danger.Pause()
	m.mover.Pause()
	m.log.Info().Msg("mission paused")
}

// Resume lifts an external pause. Idempotent. A danger hold stays in
// force; the monitor lifts it on its own once the host reports safe.
func (m *Mission) Resume() {
	if !m.ctx.paused {
		return
	}
	m.ctx.paused = false
	m.danger.Resume()
	if !m.ctx.combatStarted {
		m.machine.Resume()
		m.mover.Resume()
	}
	m.log.Info().Msg("mission resumed")
}

// Tick advances the danger machine, then the mission machine. The danger
// machine re-arms itself after a completed interrupt pass, skipping the
// mission for that tick.
func (m *Mission) Tick(now time.Time) {
	m.now = now
	if !m.dangerDisabled {
		if m.danger.Finished() {
			m.danger.Reset()
			m.danger.Start(now)
			return
		}
		m.danger.Tick(now)
	}
	m.machine.Tick(now)
}

// Finished reports whether the mission machine ran to completion.
func (m *Mission) Finished() bool { return m.machine.Finished() }

// StateName names the active mission state for display.
func (m *Mission) StateName() string {
	if !m.machine.Started() {
		return "idle"
	}
	if m.machine.Finished() {
		return "finished"
	}
	return m.machine.CurrentName()
}

// DangerState names the danger machine's position for display.
func (m *Mission) DangerState() string {
	if m.dangerDisabled {
		return "disabled"
	}
	if !m.danger.Started() {
		return "idle"
	}
	if m.danger.Finished() {
		return "rearming"
	}
	return m.danger.CurrentName()
}

// RouteName reports the route under traversal.
func (m *Mission) RouteName() string { return m.routeName }

// Context exposes the shared run bookkeeping.
func (m *Mission) Context() *MissionContext { return m.ctx }

func (m *Mission) resetEnvironment() {
	m.controller.Reset()
	m.outpost.Reset()
	m.mover.Reset()
	m.ctx.combatStarted = false
}
