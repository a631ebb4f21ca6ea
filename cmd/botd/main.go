// Command botd runs the route bot against the built-in demo world and
// serves the control panel. It is the headless stand-in for a live game
// client: same engine, scripted hostiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"route-runner/bot"
	"route-runner/bot/internal/geom"
	"route-runner/bot/internal/journal"
	"route-runner/bot/internal/panel"
	"route-runner/bot/internal/route"
	"route-runner/bot/internal/sim"
	"route-runner/bot/internal/trigger"
)

func main() {
	configPath := flag.String("config", "", "path to botd.json (optional)")
	autostart := flag.Bool("autostart", true, "queue a start command at boot")
	listRoutes := flag.Bool("list-routes", false, "print the embedded routes and exit")
	flag.Parse()

	if *listRoutes {
		for _, name := range route.Names() {
			fmt.Println(name)
		}
		return
	}

	cfg, err := bot.LoadConfig(*configPath)
	if err != nil {
		boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := newLogger(cfg)

	var file route.File
	if cfg.RouteFile != "" {
		file, err = route.LoadPath(cfg.RouteFile)
	} else {
		file, err = route.Load(cfg.RouteName)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load route")
	}
	for _, w := range file.Warnings {
		log.Warn().Str("route", file.Name).Msg(w.String())
	}

	flat, rallyPoints, warnings := route.Flatten(file.Raw)
	for _, w := range warnings {
		log.Warn().Str("route", file.Name).Msg(w.String())
	}
	if len(flat) == 0 {
		log.Fatal().Str("route", file.Name).Msg("Route has no waypoints")
	}

	outpostStart := flat[0]
	gate := flat[0]
	if n := len(file.OutpostPath); n > 0 {
		outpostStart = file.OutpostPath[0]
		gate = file.OutpostPath[n-1]
	}

	world := sim.NewWorld(sim.Config{
		Seed: time.Now().UnixNano(),
		Gate: gate,
	}, log)
	world.SpawnAlong(flat, 3, sim.HostileSpec{})

	rally := trigger.New(cfg.RallyDebounce, func(pt geom.Vec2) {
		log.Info().Str("point", pt.String()).Msg("Rally point confirmed")
	})

	controller := bot.NewController(cfg.ControllerConfig(), bot.ControllerDeps{
		Cursor:      route.NewCursor(flat),
		Mover:       world,
		Sensor:      world,
		Targeter:    world,
		Rally:       rally,
		RallyPoints: rallyPoints,
		Log:         log,
	})

	var onRunComplete func(bot.RunResult)
	if cfg.JournalEnabled {
		store, err := journal.Open(cfg.JournalPath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open run journal")
		}
		defer store.Close()
		onRunComplete = func(res bot.RunResult) {
			err := store.Record(journal.RunRow{
				Route:          res.Route,
				StartedAt:      res.StartedAt,
				FinishedAt:     res.EndedAt,
				DurationMillis: res.Duration.Milliseconds(),
				Completed:      res.Completed,
				Waypoints:      res.Waypoints,
				Scans:          res.Scans,
				TargetSwitches: res.TargetSwitches,
				MoveCommands:   res.MoveCommands,
				Kills:          res.Kills,
			})
			if err != nil {
				log.Error().Err(err).Msg("Failed to record run")
				return
			}
			if agg, err := store.RouteStats(res.Route); err == nil {
				log.Info().
					Str("route", agg.Route).
					Int64("attempts", agg.Attempts).
					Int64("completions", agg.Completions).
					Int64("best_ms", agg.BestMillis).
					Msg("Route history")
			}
		}
	}

	mission := bot.NewMission(bot.MissionDeps{
		Controller:  controller,
		Mover:       world,
		Position:    world.PlayerPos,
		OutpostPath: file.OutpostPath,
		RouteName:   file.Name,
		Hooks: bot.MissionHooks{
			TravelToStart: func() { world.Teleport(outpostStart) },
			AtStart: func() bool {
				return geom.Dist(world.PlayerPos(), outpostStart) <= cfg.ArrivalTolerance
			},
			Loading:    world.Loading,
			Explorable: world.Explorable,
			InDanger:   func() bool { return world.InDanger(cfg.DangerRadius) },
			SetupAction: func() {
				log.Info().Msg("Pre-run setup complete")
			},
		},
		Log:                  log,
		DisableDangerMonitor: cfg.DisableDangerMonitor,
		OnRunComplete:        onRunComplete,
	})

	var panelSrv *panel.Server
	runner := bot.NewRunner(bot.RunnerDeps{
		Mission:  mission,
		Loading:  world.Loading,
		TickRate: cfg.TickRate,
		Log:      log,
		AfterTick: func(snap bot.StatusSnapshot) {
			// The world keeps moving even while the mission is paused;
			// only the bot freezes, never the hostiles.
			world.Step()
			if panelSrv != nil {
				panelSrv.Broadcast(snap)
			}
		},
	})

	var httpSrv *http.Server
	if cfg.PanelEnabled {
		panelSrv = panel.NewServer(runner, func() any { return runner.Snapshot() }, log)
		httpSrv = &http.Server{Addr: cfg.PanelAddr, Handler: panelSrv.Handler()}
		go func() {
			log.Info().Str("addr", cfg.PanelAddr).Msg("Panel listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Panel server failed")
			}
		}()
	}

	log.Info().
		Str("route", file.Name).
		Int("start_location", file.Meta.StartLocationID).
		Int("destination_zone", file.Meta.DestinationZoneID).
		Int("waypoints", len(flat)).
		Int("rally_points", len(rallyPoints)).
		Int("outpost_points", len(file.OutpostPath)).
		Int("hostiles", world.AliveHostiles()).
		Msg("World ready")

	if *autostart {
		runner.Start()
	}

	stop := make(chan struct{})
	go runner.Run(stop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("Shutting down")

	close(stop)
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Panel shutdown failed")
		}
	}
}

func newLogger(cfg bot.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}
