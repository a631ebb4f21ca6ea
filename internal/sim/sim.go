// Package sim is a deterministic headless world used to exercise the bot
// without a live game client. It implements the bot's movement, sensing
// and targeting ports over a handful of scripted hostiles and a single
// zone gate, so a full mission can run end to end in a terminal.
package sim

import (
	"math/rand"

	"github.com/rs/zerolog"

	"route-runner/bot/internal/geom"
	"route-runner/bot/internal/scan"
)

// Defaults applied by NewWorld when the corresponding Config field is zero.
const (
	DefaultSpeed       = 150.0
	DefaultGateRadius  = 300.0
	DefaultLoadTicks   = 8
	DefaultStrikeRange = 600.0
	DefaultLeash       = 1200.0
	DefaultHostileHP   = 4
)

// HostileSpec seeds one hostile into the world.
type HostileSpec struct {
	Spawn geom.Vec2
	Leash float64
	Speed float64
	HP    int
}

// Config describes the world. Zero fields fall back to the defaults above.
type Config struct {
	Seed        int64
	Speed       float64
	Start       geom.Vec2
	Gate        geom.Vec2
	GateRadius  float64
	LoadTicks   int
	StrikeRange float64
	Hostiles    []HostileSpec
}

type hostileState struct {
	id    scan.EntityID
	spawn geom.Vec2
	pos   geom.Vec2
	leash float64
	speed float64
	hp    int
	alive bool
}

// World holds all mutable sim state. It is owned by the tick goroutine:
// the bot's ports and Step must be called from the same loop.
type World struct {
	cfg Config
	rng *rand.Rand
	log zerolog.Logger

	player    geom.Vec2
	dest      geom.Vec2
	following bool
	arrived   bool
	paused    bool

	hostiles []*hostileState
	nextID   scan.EntityID
	engaged  scan.EntityID

	loadLeft    int
	gateCrossed bool
	explorable  bool
}

// NewWorld builds a world from cfg.
func NewWorld(cfg Config, log zerolog.Logger) *World {
	if cfg.Speed <= 0 {
		cfg.Speed = DefaultSpeed
	}
	if cfg.GateRadius <= 0 {
		cfg.GateRadius = DefaultGateRadius
	}
	if cfg.LoadTicks <= 0 {
		cfg.LoadTicks = DefaultLoadTicks
	}
	if cfg.StrikeRange <= 0 {
		cfg.StrikeRange = DefaultStrikeRange
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}

	w := &World{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		log:    log,
		player: cfg.Start,
	}
	for _, spec := range cfg.Hostiles {
		w.addHostile(spec)
	}
	return w
}

func (w *World) addHostile(spec HostileSpec) {
	if spec.Leash <= 0 {
		spec.Leash = DefaultLeash
	}
	if spec.Speed <= 0 {
		spec.Speed = w.cfg.Speed * 0.6
	}
	if spec.HP <= 0 {
		spec.HP = DefaultHostileHP
	}
	w.nextID++
	w.hostiles = append(w.hostiles, &hostileState{
		id:    w.nextID,
		spawn: spec.Spawn,
		pos:   spec.Spawn,
		leash: spec.Leash,
		speed: spec.Speed,
		hp:    spec.HP,
		alive: true,
	})
}

// SpawnAlong scatters one hostile near every n-th point of path, with a
// little seeded jitter so packs do not stack on the waypoint itself.
func (w *World) SpawnAlong(path []geom.Vec2, every int, spec HostileSpec) {
	if every <= 0 {
		every = 1
	}
	for i := 0; i < len(path); i += every {
		jittered := spec
		jittered.Spawn = geom.Vec2{
			X: path[i].X + (w.rng.Float64()-0.5)*400,
			Y: path[i].Y + (w.rng.Float64()-0.5)*400,
		}
		w.addHostile(jittered)
	}
}

// Step advances the world by one frame: drains any loading window, fires
// the zone gate, lands strikes on the engaged hostile and moves the rest.
// The player itself moves in Update, which the controller owns.
func (w *World) Step() {
	if w.loadLeft > 0 {
		w.loadLeft--
		if w.loadLeft == 0 {
			if w.gateCrossed {
				w.explorable = true
			}
			w.log.Debug().Bool("explorable", w.explorable).Msg("Loading finished")
		}
		return
	}

	if !w.gateCrossed && geom.Dist(w.player, w.cfg.Gate) <= w.cfg.GateRadius {
		w.gateCrossed = true
		w.loadLeft = w.cfg.LoadTicks
		w.following = false
		w.log.Debug().Msg("Zone gate crossed, loading")
		return
	}

	for _, h := range w.hostiles {
		if !h.alive {
			continue
		}
		if h.id == w.engaged && geom.Dist(w.player, h.pos) <= w.cfg.StrikeRange {
			h.hp--
			if h.hp <= 0 {
				h.alive = false
				w.log.Debug().Uint64("id", uint64(h.id)).Msg("Hostile down")
				continue
			}
		}
		w.moveHostile(h)
	}
}

// moveHostile chases the player while the player stands inside the leash
// radius of the hostile's spawn, and walks home otherwise.
func (w *World) moveHostile(h *hostileState) {
	goal := h.spawn
	if geom.Dist(w.player, h.spawn) <= h.leash {
		goal = w.player
	}
	h.pos = stepToward(h.pos, goal, h.speed)
}

func stepToward(from, to geom.Vec2, speed float64) geom.Vec2 {
	d := geom.Dist(from, to)
	if d <= speed {
		return to
	}
	return geom.Vec2{
		X: from.X + (to.X-from.X)/d*speed,
		Y: from.Y + (to.Y-from.Y)/d*speed,
	}
}

// Teleport drops the player at pt and starts a loading window, the way a
// zone transition would.
func (w *World) Teleport(pt geom.Vec2) {
	w.player = pt
	w.following = false
	w.arrived = false
	w.loadLeft = w.cfg.LoadTicks
}

// PlayerPos reports the player's position.
func (w *World) PlayerPos() geom.Vec2 { return w.player }

// Loading reports whether a loading window is draining.
func (w *World) Loading() bool { return w.loadLeft > 0 }

// Explorable reports whether the zone gate has been crossed and loaded.
func (w *World) Explorable() bool { return w.explorable }

// InDanger reports whether any live hostile stands within radius of the
// player. Wired to the mission's danger hook.
func (w *World) InDanger(radius float64) bool {
	for _, h := range w.hostiles {
		if h.alive && geom.Dist(w.player, h.pos) <= radius {
			return true
		}
	}
	return false
}

// AliveHostiles counts hostiles still standing.
func (w *World) AliveHostiles() int {
	n := 0
	for _, h := range w.hostiles {
		if h.alive {
			n++
		}
	}
	return n
}

// MoveTo implements the movement port.
func (w *World) MoveTo(pt geom.Vec2) error {
	w.dest = pt
	w.following = true
	w.arrived = false
	return nil
}

// Halt implements the movement port.
func (w *World) Halt() { w.following = false }

// Following implements the movement port.
func (w *World) Following() bool { return w.following }

// Arrived implements the movement port.
func (w *World) Arrived() bool { return w.arrived }

// SetArrived implements the movement port.
func (w *World) SetArrived(arrived bool) { w.arrived = arrived }

// Reset implements the movement port: a full driver wipe.
func (w *World) Reset() {
	w.dest = geom.Vec2{}
	w.following = false
	w.arrived = false
	w.paused = false
}

// Pause implements the movement port.
func (w *World) Pause() { w.paused = true }

// Resume implements the movement port.
func (w *World) Resume() { w.paused = false }

// Update implements the movement port: one integration step toward the
// commanded destination.
func (w *World) Update() {
	if w.paused || !w.following {
		return
	}
	if geom.Dist(w.player, w.dest) <= w.cfg.Speed {
		w.player = w.dest
		w.following = false
		return
	}
	w.player = stepToward(w.player, w.dest, w.cfg.Speed)
}

// NearbyHostiles implements the sensing port. Corpses inside the radius
// are reported with Alive false; the scanner needs them to tell a kill
// from a despawn.
func (w *World) NearbyHostiles(pos geom.Vec2, radius float64) ([]scan.Hostile, error) {
	out := make([]scan.Hostile, 0, len(w.hostiles))
	for _, h := range w.hostiles {
		if geom.Dist(pos, h.pos) <= radius {
			out = append(out, scan.Hostile{ID: h.id, Pos: h.pos, Alive: h.alive})
		}
	}
	return out, nil
}

// SetTarget implements the targeting port.
func (w *World) SetTarget(id scan.EntityID) error {
	w.engaged = id
	return nil
}
