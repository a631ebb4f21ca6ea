package bot

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Distance defaults, in world units.
const (
	DefaultAggroRange       = 2500.0
	DefaultArrivalTolerance = 250.0
	DefaultRallyRadius      = 2500.0
	DefaultDangerRadius     = 1000.0
)

// DefaultTickRate is the runner's frame rate in ticks per second.
const DefaultTickRate = 10

// Config is the host configuration assembled once at startup and handed to
// constructors; components never read configuration ambiently.
type Config struct {
	LogLevel  string
	LogFormat string

	RouteName string
	RouteFile string

	TickRate             int
	DisableDangerMonitor bool
	DangerRadius         float64

	AggroRange       float64
	ArrivalTolerance float64
	EarlyAdvance     float64
	CombatReach      float64
	ScanInterval     time.Duration
	ScanMoveRatio    float64
	LogActions       bool

	RallyRadius   float64
	RallyDebounce time.Duration

	PanelEnabled bool
	PanelAddr    string

	JournalEnabled bool
	JournalPath    string
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		LogLevel:         "info",
		LogFormat:        "console",
		RouteName:        "grove_circuit",
		TickRate:         DefaultTickRate,
		DangerRadius:     DefaultDangerRadius,
		AggroRange:       DefaultAggroRange,
		ArrivalTolerance: DefaultArrivalTolerance,
		EarlyAdvance:     DefaultArrivalTolerance * 1.5,
		CombatReach:      DefaultArrivalTolerance * 1.25,
		ScanInterval:     500 * time.Millisecond,
		ScanMoveRatio:    0.75,
		RallyRadius:      DefaultRallyRadius,
		RallyDebounce:    5 * time.Second,
		PanelEnabled:     true,
		PanelAddr:        ":8571",
		JournalEnabled:   true,
		JournalPath:      "runs.db",
	}
}

// LoadConfig reads configuration from the given file, or from an optional
// botd.json in the working directory when path is empty. A missing implicit
// file is not an error; every key has a default.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetDefault("log.level", def.LogLevel)
	v.SetDefault("log.format", def.LogFormat)
	v.SetDefault("route.name", def.RouteName)
	v.SetDefault("route.file", "")
	v.SetDefault("runner.tickRate", def.TickRate)
	v.SetDefault("runner.disableDangerMonitor", false)
	v.SetDefault("danger.radius", def.DangerRadius)
	v.SetDefault("controller.aggroRange", def.AggroRange)
	v.SetDefault("controller.arrivalTolerance", def.ArrivalTolerance)
	v.SetDefault("controller.earlyAdvance", def.EarlyAdvance)
	v.SetDefault("controller.combatReach", def.CombatReach)
	v.SetDefault("controller.scanInterval", "500ms")
	v.SetDefault("controller.scanMoveRatio", def.ScanMoveRatio)
	v.SetDefault("controller.logActions", false)
	v.SetDefault("rally.radius", def.RallyRadius)
	v.SetDefault("rally.debounce", "5s")
	v.SetDefault("panel.enabled", def.PanelEnabled)
	v.SetDefault("panel.addr", def.PanelAddr)
	v.SetDefault("journal.enabled", def.JournalEnabled)
	v.SetDefault("journal.path", def.JournalPath)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("botd")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		LogLevel:             v.GetString("log.level"),
		LogFormat:            v.GetString("log.format"),
		RouteName:            v.GetString("route.name"),
		RouteFile:            v.GetString("route.file"),
		TickRate:             v.GetInt("runner.tickRate"),
		DisableDangerMonitor: v.GetBool("runner.disableDangerMonitor"),
		DangerRadius:         v.GetFloat64("danger.radius"),
		AggroRange:           v.GetFloat64("controller.aggroRange"),
		ArrivalTolerance:     v.GetFloat64("controller.arrivalTolerance"),
		EarlyAdvance:         v.GetFloat64("controller.earlyAdvance"),
		CombatReach:          v.GetFloat64("controller.combatReach"),
		ScanInterval:         v.GetDuration("controller.scanInterval"),
		ScanMoveRatio:        v.GetFloat64("controller.scanMoveRatio"),
		LogActions:           v.GetBool("controller.logActions"),
		RallyRadius:          v.GetFloat64("rally.radius"),
		RallyDebounce:        v.GetDuration("rally.debounce"),
		PanelEnabled:         v.GetBool("panel.enabled"),
		PanelAddr:            v.GetString("panel.addr"),
		JournalEnabled:       v.GetBool("journal.enabled"),
		JournalPath:          v.GetString("journal.path"),
	}
	return cfg, nil
}

// ControllerConfig extracts the controller tunables.
func (c Config) ControllerConfig() ControllerConfig {
	return ControllerConfig{
		AggroRange:       c.AggroRange,
		ArrivalTolerance: c.ArrivalTolerance,
		EarlyAdvance:     c.EarlyAdvance,
		CombatReach:      c.CombatReach,
		ScanInterval:     c.ScanInterval,
		ScanMoveRatio:    c.ScanMoveRatio,
		RallyRadius:      c.RallyRadius,
		LogActions:       c.LogActions,
	}
}
