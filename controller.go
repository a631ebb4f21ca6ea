package bot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"route-runner/bot/internal/geom"
	"route-runner/bot/internal/route"
	"route-runner/bot/internal/scan"
	"route-runner/bot/internal/trigger"
)

// Mode is the controller's top-level behavior: traversing waypoints or
// engaging a hostile.
type Mode uint8

const (
	ModePath Mode = iota
	ModeCombat
)

func (m Mode) String() string {
	if m == ModeCombat {
		return "combat"
	}
	return "path"
}

// statsInterval is the width of the command-rate logging window.
const statsInterval = 30 * time.Second

// ControllerConfig tunes the path/combat loop. Zero values fall back to the
// package defaults so a zero config is usable in tests.
type ControllerConfig struct {
	AggroRange       float64
	ArrivalTolerance float64
	EarlyAdvance     float64 // fluid-advance distance, defaults to 1.5x tolerance
	CombatReach      float64 // waypoint credit distance while fighting, defaults to 1.25x tolerance
	ScanInterval     time.Duration
	ScanMoveRatio    float64
	RallyRadius      float64
	LogActions       bool
}

func (c ControllerConfig) normalized() ControllerConfig {
	if c.AggroRange <= 0 {
		c.AggroRange = DefaultAggroRange
	}
	if c.ArrivalTolerance <= 0 {
		c.ArrivalTolerance = DefaultArrivalTolerance
	}
	if c.EarlyAdvance <= 0 {
		c.EarlyAdvance = c.ArrivalTolerance * 1.5
	}
	if c.CombatReach <= 0 {
		c.CombatReach = c.ArrivalTolerance * 1.25
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = scan.DefaultInterval
	}
	if c.ScanMoveRatio <= 0 {
		c.ScanMoveRatio = scan.DefaultMoveRatio
	}
	if c.RallyRadius <= 0 {
		c.RallyRadius = DefaultRallyRadius
	}
	return c
}

// ControllerDeps bundles what a controller drives. Cursor, Mover and Sensor
// are required; the rest are optional host integrations.
type ControllerDeps struct {
	Cursor      *route.Cursor
	Mover       Mover
	Sensor      Sensor
	Targeter    Targeter         // nil skips target commands
	Rally       *trigger.Trigger // nil disables rally handling
	RallyPoints []geom.Vec2
	Busy        func() bool // nil means never busy
	Log         zerolog.Logger
}

// CommandCounters are the per-run command totals, reset when the controller
// resets for a new run.
type CommandCounters struct {
	Scans          uint64 `json:"scans"`
	TargetSwitches uint64 `json:"targetSwitches"`
	MoveCommands   uint64 `json:"moveCommands"`
	Advances       uint64 `json:"advances"`
	Kills          uint64 `json:"kills"`
}

// Controller walks a route and breaks off to fight whatever the throttled
// scanner reports, then resumes the route. One instance per run; tick it
// from a single goroutine.
//
// Every tick re-evaluates guards from scratch. Nothing blocks and nothing
// is cancelled; a mode simply stops being chosen.
type Controller struct {
	cfg      ControllerConfig
	cursor   *route.Cursor
	mover    Mover
	targeter Targeter
	scanner  *scan.Scanner
	rally    *trigger.Trigger
	rallyPts []geom.Vec2
	busy     func() bool
	log      zerolog.Logger
	metrics  *botMetrics

	mode    Mode
	current *geom.Vec2 // waypoint being walked to, nil when lost
	target  EntityID   // latched combat target

	// Command dedup state. Survives mode flips on purpose: re-engaging the
	// same target must not re-issue the target command.
	lastTargetID EntityID
	lastMoveX    int
	lastMoveY    int
	hasLastMove  bool

	forced int // one-shot forced index, -1 when unset
	hold   bool

	lastPos geom.Vec2
	status  string

	// Windowed command-rate counters, logged and cleared every statsInterval.
	statsStart  time.Time
	winSwitches uint64
	winMoves    uint64

	// Per-run totals.
	counters CommandCounters
}

// NewController wires a controller over its dependencies.
func NewController(cfg ControllerConfig, deps ControllerDeps) *Controller {
	cfg = cfg.normalized()
	c := &Controller{
		cfg:      cfg,
		cursor:   deps.Cursor,
		mover:    deps.Mover,
		targeter: deps.Targeter,
		rally:    deps.Rally,
		rallyPts: deps.RallyPoints,
		busy:     deps.Busy,
		log:      deps.Log.With().Str("component", "controller").Logger(),
		forced:   -1,
		status:   "Waiting to begin...",
	}
	query := func(geom.Vec2, float64) ([]Hostile, error) { return nil, nil }
	if deps.Sensor != nil {
		inner := deps.Sensor.NearbyHostiles
		query = func(pos geom.Vec2, radius float64) ([]Hostile, error) {
			c.counters.Scans++
			c.metrics.scan()
			return inner(pos, radius)
		}
	}
	c.scanner = scan.New(scan.Config{
		AggroRange:    cfg.AggroRange,
		MoveThreshold: cfg.AggroRange * cfg.ScanMoveRatio,
		Interval:      cfg.ScanInterval,
	}, query)
	return c
}

// Tick runs one frame of the loop with the player at pos.
func (c *Controller) Tick(now time.Time, pos geom.Vec2) {
	c.lastPos = pos
	c.maybeLogStats(now)

	if c.cursor.Len() == 0 {
		c.status = "No waypoints available."
		return
	}

	if c.busy != nil && c.busy() {
		c.status = "Waiting for looting to finish..."
		c.mover.Update()
		return
	}

	c.checkRallyPoints(now, pos)

	switch c.mode {
	case ModePath:
		c.tickPath(now, pos)
	case ModeCombat:
		c.tickCombat(now, pos)
	}

	c.mover.Update()
}

// checkRallyPoints walks the configured rally points and feeds the first
// nearby unconfirmed one to the proximity trigger. At most one point is
// handled per tick.
func (c *Controller) checkRallyPoints(now time.Time, pos geom.Vec2) {
	if c.rally == nil {
		return
	}
	for _, pt := range c.rallyPts {
		if c.rally.Confirmed(pt) {
			continue
		}
		if geom.Dist(pos, pt) < c.cfg.RallyRadius {
			c.status = "Near rally point " + pt.String()
			if st := c.rally.Check(now, pt, pos, c.cfg.RallyRadius); st == trigger.StatusFired {
				c.log.Info().Str("point", pt.String()).Msg("rally action fired")
			}
			break
		}
	}
}

func (c *Controller) tickPath(now time.Time, pos geom.Vec2) {
	res := c.scanner.Scan(now, pos)
	if res.Found {
		c.target = res.Target
		c.setMode(ModeCombat)
		c.status = "Switching to combat mode."
		if c.cfg.LogActions {
			c.log.Warn().Uint64("target", uint64(res.Target)).Msg("switching to combat mode")
		}
		return
	}
	c.advanceToNextPoint(pos)
}

func (c *Controller) tickCombat(now time.Time, pos geom.Vec2) {
	// Credit waypoints passed while fighting so the route does not rewind
	// when combat ends.
	if c.current != nil && geom.Dist(pos, *c.current) <= c.cfg.CombatReach {
		if c.advanceIndexOnly() {
			c.status = "Marked waypoint reached during combat."
		}
	}

	if done, killed := c.targetDown(); done {
		if killed {
			c.counters.Kills++
		}
		c.target = 0
		c.setMode(ModePath)
		c.status = "Combat done. Switching to path mode."
		if c.cfg.LogActions {
			c.log.Info().Msg("combat done, returning to path")
		}
		return
	}

	res := c.scanner.Scan(now, pos)
	if !res.Found {
		// The fresh sample may have just witnessed the death.
		if h, ok := c.scanner.Lookup(c.target); ok && !h.Alive {
			c.counters.Kills++
			c.status = "Combat done. Switching to path mode."
		} else {
			c.status = "No enemies on throttled scan. Returning to path."
		}
		c.target = 0
		c.setMode(ModePath)
		return
	}

	if res.Target != c.target && c.target != 0 {
		// Combat continues on a new nearest; still credit the old target
		// if the fresh sample saw it die.
		if h, ok := c.scanner.Lookup(c.target); ok && !h.Alive {
			c.counters.Kills++
		}
	}

	if res.Target != c.lastTargetID {
		if c.targeter != nil {
			if err := c.targeter.SetTarget(res.Target); err != nil {
				c.target = 0
				c.setMode(ModePath)
				c.status = "Target command failed. Returning to path."
				c.log.Debug().Err(err).Msg("target command rejected")
				return
			}
		}
		c.lastTargetID = res.Target
		c.winSwitches++
		c.counters.TargetSwitches++
		c.metrics.targetSwitch()
	}
	c.target = res.Target

	mx, my := res.Pos.Rounded()
	if !c.hasLastMove || mx != c.lastMoveX || my != c.lastMoveY {
		if err := c.mover.MoveTo(res.Pos); err != nil {
			c.target = 0
			c.setMode(ModePath)
			c.status = "Move command failed. Returning to path."
			c.log.Debug().Err(err).Msg("combat move rejected")
			return
		}
		c.recordMove(mx, my)
	}
	c.status = fmt.Sprintf("Closing in on enemy at (%d, %d)", mx, my)
}

// targetDown reports whether the latched target no longer warrants combat,
// and whether it counts as a kill (seen dead rather than merely gone).
func (c *Controller) targetDown() (done, killed bool) {
	if c.target == 0 {
		return true, false
	}
	h, ok := c.scanner.Lookup(c.target)
	if !ok {
		return true, false
	}
	if !h.Alive {
		return true, true
	}
	return false, false
}

// advanceToNextPoint is the path-mode body: issue the next movement command,
// or fluidly advance past the current waypoint when close enough.
func (c *Controller) advanceToNextPoint(pos geom.Vec2) {
	n := c.cursor.Len()
	wps := c.cursor.Waypoints()

	if c.hold {
		// Holding pins the cursor; only a fresh forced index moves us.
		if c.forced >= 0 {
			idx := geom.Clamp(c.forced, 0, n-1)
			c.forced = -1
			pt := wps[idx]
			c.cursor.SetIndex(idx)
			c.setCurrent(pt)
			c.moveTo(pt)
			c.status = fmt.Sprintf("[DEBUG] Holding at wp %d/%d %s [HOLD]", idx+1, n, pt)
		}
		return
	}

	if c.forced >= 0 {
		idx := geom.Clamp(c.forced, 0, n-1)
		c.forced = -1
		pt := wps[idx]
		c.cursor.SetIndex(idx)
		c.setCurrent(pt)
		c.moveTo(pt)
		c.status = fmt.Sprintf("[DEBUG] Moving to wp %d/%d %s", idx+1, n, pt)
		return
	}

	if !c.mover.Following() {
		pt, ok := c.cursor.Advance()
		if !ok {
			c.status = "No valid next waypoint! Stopping pathing."
			c.log.Warn().Msg("route exhausted, rewinding")
			c.cursor.Reset()
			if pt, ok := c.cursor.Advance(); ok {
				c.noteAdvance()
				c.setCurrent(pt)
				c.moveTo(pt)
				c.status = "Path reset. Moving to " + pt.String()
			}
			return
		}
		c.noteAdvance()
		c.setCurrent(pt)
		c.moveTo(pt)
		c.status = "Moving to " + pt.String()
		if c.cfg.LogActions {
			c.log.Info().Str("waypoint", pt.String()).Msg("moving to waypoint")
		}
		return
	}

	if c.current == nil {
		c.status = "Lost current path point, hang on a second"
		c.mover.Halt()
		return
	}

	dist := geom.Dist(pos, *c.current)
	if !c.scanner.Cached().Found && dist <= c.cfg.EarlyAdvance {
		if !c.advanceIndexAndMove() {
			c.arrive()
		}
		return
	}
	if dist <= c.cfg.ArrivalTolerance {
		// Inside the hard tolerance the waypoint is spent regardless of
		// what the scanner knows.
		if !c.advanceIndexAndMove() {
			c.arrive()
		}
	}
}

// advanceIndexOnly claims the next waypoint without commanding movement.
// Used in combat so fighting over a waypoint still makes route progress.
func (c *Controller) advanceIndexOnly() bool {
	nxt, pt, ok := c.nextIndex()
	if !ok {
		return false
	}
	c.cursor.SetIndex(nxt)
	c.noteAdvance()
	c.setCurrent(pt)
	return true
}

// advanceIndexAndMove claims the next waypoint and walks to it. Returns
// false when the route has no next waypoint.
func (c *Controller) advanceIndexAndMove() bool {
	nxt, pt, ok := c.nextIndex()
	if !ok {
		return false
	}
	c.cursor.SetIndex(nxt)
	c.noteAdvance()
	c.setCurrent(pt)
	c.moveTo(pt)
	c.status = fmt.Sprintf("Flowing to next wp %d/%d %s", nxt+1, c.cursor.Len(), pt)
	return true
}

func (c *Controller) nextIndex() (int, geom.Vec2, bool) {
	cur := c.CurrentIndex()
	if cur < 0 {
		return 0, geom.Vec2{}, false
	}
	nxt := cur + 1
	wps := c.cursor.Waypoints()
	if nxt >= len(wps) {
		return 0, geom.Vec2{}, false
	}
	return nxt, wps[nxt], true
}

func (c *Controller) arrive() {
	c.mover.SetArrived(true)
	c.mover.Halt()
	c.status = "Arrived at final waypoint."
	if c.cfg.LogActions {
		c.log.Info().Msg("arrived at final waypoint")
	}
}

func (c *Controller) setCurrent(pt geom.Vec2) {
	c.current = &pt
}

func (c *Controller) noteAdvance() {
	c.counters.Advances++
	c.metrics.waypointAdvanced()
}

// moveTo issues a path-mode movement command. Driver rejections are logged
// and absorbed; the guards re-evaluate next tick.
func (c *Controller) moveTo(pt geom.Vec2) {
	if err := c.mover.MoveTo(pt); err != nil {
		c.log.Debug().Err(err).Str("waypoint", pt.String()).Msg("move command rejected")
		return
	}
	x, y := pt.Rounded()
	c.recordMove(x, y)
}

func (c *Controller) recordMove(x, y int) {
	c.lastMoveX, c.lastMoveY, c.hasLastMove = x, y, true
	c.winMoves++
	c.counters.MoveCommands++
	c.metrics.moveCommand()
}

func (c *Controller) setMode(m Mode) {
	if c.mode == m {
		return
	}
	c.mode = m
	c.metrics.modeSwitch()
}

func (c *Controller) maybeLogStats(now time.Time) {
	if c.statsStart.IsZero() {
		c.statsStart = now
		return
	}
	elapsed := now.Sub(c.statsStart)
	if elapsed < statsInterval {
		return
	}
	fired, suppressed := c.scanner.Stats()
	c.metrics.scanSuppressed(suppressed)
	c.log.Info().
		Dur("window", elapsed).
		Uint64("scans", fired).
		Uint64("suppressed", suppressed).
		Uint64("target_switches", c.winSwitches).
		Uint64("moves", c.winMoves).
		Msg("command rate")
	c.statsStart = now
	c.winSwitches, c.winMoves = 0, 0
	c.scanner.ResetStats()
}

// ForceMoveToIndex jumps the run to the given waypoint and walks there now.
// The index clamps into range. With sticky set the controller holds at the
// target until released. Returns false when the route is empty.
func (c *Controller) ForceMoveToIndex(idx int, sticky bool) bool {
	n := c.cursor.Len()
	if n == 0 {
		c.status = "No waypoints available."
		return false
	}
	idx = geom.Clamp(idx, 0, n-1)
	pt := c.cursor.Waypoints()[idx]
	c.cursor.SetIndex(idx)
	c.forced = idx
	if sticky {
		c.hold = true
	}
	c.mover.Halt()
	c.mover.SetArrived(false)
	c.setCurrent(pt)
	c.moveTo(pt)
	tag := ""
	if c.hold {
		tag = " [HOLD]"
	}
	c.status = fmt.Sprintf("[DEBUG] Forced move to wp %d/%d %s%s", idx+1, n, pt, tag)
	c.log.Warn().Int("index", idx).Bool("hold", c.hold).Msg("forced move")
	return true
}

// SetActiveIndex repositions the cursor without commanding movement, for
// silently resyncing after external interference. Traversal resumes from
// the waypoint after idx.
func (c *Controller) SetActiveIndex(idx int) bool {
	n := c.cursor.Len()
	if n == 0 {
		c.status = "No waypoints available."
		return false
	}
	idx = geom.Clamp(idx, 0, n-1)
	c.cursor.SetIndex(idx)
	c.forced = -1
	c.hold = false
	c.current = nil
	c.mover.Halt()
	c.mover.SetArrived(false)
	c.status = fmt.Sprintf("[DEBUG] Set active index to %d/%d", idx+1, n)
	return true
}

// SeekRelative forces a move delta waypoints away from the current index.
func (c *Controller) SeekRelative(delta int, sticky bool) bool {
	if c.cursor.Len() == 0 {
		c.status = "No waypoints to seek."
		return false
	}
	cur := c.CurrentIndex()
	if cur < 0 {
		cur = 0
	}
	return c.ForceMoveToIndex(cur+delta, sticky)
}

// EnableHold pins the cursor at the current waypoint until released.
func (c *Controller) EnableHold() { c.hold = true }

// ReleaseHold resumes normal traversal and clears any pending forced index.
func (c *Controller) ReleaseHold() {
	c.hold = false
	c.forced = -1
}

// Hold reports whether the cursor is pinned.
func (c *Controller) Hold() bool { return c.hold }

// CurrentIndex resolves the active waypoint index for display and seeking.
// Pending forced indices win, then the cursor, then the tracked waypoint,
// then the waypoint nearest the last known player position. Empty routes
// answer -1.
func (c *Controller) CurrentIndex() int {
	n := c.cursor.Len()
	if n == 0 {
		return -1
	}
	if c.forced >= 0 {
		return geom.Clamp(c.forced, 0, n-1)
	}
	if idx, ok := c.cursor.Index(); ok {
		return idx
	}
	wps := c.cursor.Waypoints()
	if c.current != nil {
		for i, wp := range wps {
			if wp == *c.current {
				return i
			}
		}
	}
	best, bestD := -1, 0.0
	for i, wp := range wps {
		d := geom.Dist2(c.lastPos, wp)
		if best < 0 || d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// CurrentWaypoint returns the waypoint being walked to, or the one under
// the resolved index when none is tracked.
func (c *Controller) CurrentWaypoint() (geom.Vec2, bool) {
	if c.current != nil {
		return *c.current, true
	}
	if idx := c.CurrentIndex(); idx >= 0 {
		return c.cursor.Waypoints()[idx], true
	}
	return geom.Vec2{}, false
}

// Waypoints exposes the route for display. Read-only.
func (c *Controller) Waypoints() route.FlatRoute { return c.cursor.Waypoints() }

// Mode reports the current behavior mode.
func (c *Controller) Mode() Mode { return c.mode }

// StatusMessage is the single-line, human-readable account of the last tick.
func (c *Controller) StatusMessage() string { return c.status }

// Target reports the latched combat target, zero outside combat.
func (c *Controller) Target() EntityID { return c.target }

// Counters returns the per-run command totals.
func (c *Controller) Counters() CommandCounters { return c.counters }

// Finished reports whether the final waypoint has been reached. Empty
// routes are trivially finished.
func (c *Controller) Finished() bool {
	if c.cursor.Len() == 0 {
		return true
	}
	idx, ok := c.cursor.Index()
	return ok && idx == c.cursor.Len()-1 && c.mover.Arrived()
}

// Reset rewinds the controller for a fresh run: cursor at the start, path
// mode, no target, dedup and counters cleared. Hold and rally state are
// intentionally kept; holds survive run restarts and rally confirmations
// are sticky for the trigger's lifetime.
func (c *Controller) Reset() {
	c.cursor.Reset()
	c.mode = ModePath
	c.target = 0
	c.current = nil
	c.forced = -1
	c.lastTargetID = 0
	c.hasLastMove = false
	c.counters = CommandCounters{}
	c.status = "Waiting to begin..."
}
