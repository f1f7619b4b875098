package core

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Config is the central configuration for a population based training run.
//
// Resolved through a four-level hierarchy where each layer overrides
// values set by the layer beneath it:
//
//	Priority (highest -> lowest):
//	  1. Programmatic overrides (CLI flags applied after loading)
//	  2. Environment variables (PBT_* prefix)
//	  3. YAML configuration file
//	  4. Built-in defaults
//
// Duration fields accept standard Go duration strings when supplied
// through the YAML file or environment variables (e.g. "30s", "5m").
// ---------------------------------------------------------------------------

// RunConfig groups the top-level schedule a Controller drives.
type RunConfig struct {
	// Task names the registered search space and trainer/evaluator pair
	// to run (e.g. "mnist", "fraud").
	Task string `yaml:"task"`

	// PopulationSize is the number of members an Evolver maintains.
	PopulationSize int `yaml:"populationSize"`

	// StepSize is the number of training steps run per member per
	// generation before evaluation.
	StepSize int `yaml:"stepSize"`

	// MaxSteps, MaxGenerations and ScoreTarget are the end criteria;
	// the run terminates once any one is met.
	MaxSteps       int     `yaml:"maxSteps"`
	MaxGenerations int     `yaml:"maxGenerations"`
	ScoreTarget    float64 `yaml:"scoreTarget"`

	// MetricSplit and MetricName identify the loss entry members are
	// ranked and end-criteria are checked on.
	MetricSplit string `yaml:"metricSplit"`
	MetricName  string `yaml:"metricName"`

	// HigherIsBetter flips ranking and end-criteria comparisons.
	HigherIsBetter bool `yaml:"higherIsBetter"`
}

// WorkerConfig groups Worker Pool settings.
type WorkerConfig struct {
	// NJobs is the number of workers started, bound round-robin over
	// Devices.
	NJobs int `yaml:"nJobs"`

	// Devices lists the compute devices workers cycle over.
	Devices []string `yaml:"devices"`
}

// StorageConfig groups Checkpoint Database durability settings.
type StorageConfig struct {
	// DatabasePath is the directory checkpoints are persisted under.
	DatabasePath string `yaml:"databasePath"`

	// Compress enables gzip compression of persisted checkpoint metadata.
	Compress bool `yaml:"compress"`

	// WALEnabled controls write-ahead logging for crash recovery.
	WALEnabled bool `yaml:"walEnabled"`

	// FsyncPolicy controls persistence fsync behavior: always | interval | off.
	FsyncPolicy string `yaml:"fsyncPolicy"`

	// FsyncInterval controls fsync cadence when fsyncPolicy is interval.
	FsyncInterval time.Duration `yaml:"fsyncInterval"`

	// ChecksumValidationInterval controls periodic on-disk checksum
	// scans. 0 disables periodic background validation.
	ChecksumValidationInterval time.Duration `yaml:"checksumValidationInterval"`

	// StartupRepair enables startup integrity repair for corrupt or
	// missing persisted data files.
	StartupRepair bool `yaml:"startupRepair"`
}

// EvolverConfig groups the parameters for whichever Evolver the run
// uses. Only the fields relevant to Strategy are validated.
type EvolverConfig struct {
	// Strategy selects the Evolver: exploit_explore | differential_evolution | particle_swarm.
	Strategy string `yaml:"strategy"`

	// Exploit-and-Explore parameters.
	ExploitFactor float64 `yaml:"exploitFactor"`
	ExploreLow    float64 `yaml:"exploreLow"`
	ExploreHigh   float64 `yaml:"exploreHigh"`
	RandomWalk    bool    `yaml:"randomWalk"`

	// Differential Evolution parameters.
	F  float64 `yaml:"f"`
	Cr float64 `yaml:"cr"`

	// Particle Swarm parameters.
	Inertia   float64 `yaml:"inertia"`
	Cognition float64 `yaml:"cognition"`
	Social    float64 `yaml:"social"`
}

// LoggingConfig groups diagnostic output settings.
type LoggingConfig struct {
	// Verbose adds a log line for every controller state transition;
	// the per-generation summary line is logged either way.
	Verbose bool `yaml:"verbose"`
}

// Config is the full, merged configuration for one run.
type Config struct {
	Run     RunConfig     `yaml:"run"`
	Worker  WorkerConfig  `yaml:"worker"`
	Storage StorageConfig `yaml:"storage"`
	Evolver EvolverConfig `yaml:"evolver"`
	Logging LoggingConfig `yaml:"logging"`
}

// ---------------------------------------------------------------------------
// Factory functions
// ---------------------------------------------------------------------------

// DefaultConfig returns a Config populated with reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			Task:           "mnist",
			PopulationSize: 10,
			StepSize:       1000,
			MaxSteps:       100000,
			MaxGenerations: 100,
			ScoreTarget:    0,
			MetricSplit:    "eval",
			MetricName:     "loss",
			HigherIsBetter: false,
		},
		Worker: WorkerConfig{
			NJobs:   1,
			Devices: []string{"cpu"},
		},
		Storage: StorageConfig{
			DatabasePath:               "./checkpoints",
			Compress:                   true,
			WALEnabled:                 true,
			FsyncPolicy:                "interval",
			FsyncInterval:              1 * time.Second,
			ChecksumValidationInterval: 0,
			StartupRepair:              true,
		},
		Evolver: EvolverConfig{
			Strategy:      "exploit_explore",
			ExploitFactor: 0.2,
			ExploreLow:    0.8,
			ExploreHigh:   1.2,
			RandomWalk:    false,
			F:             0.2,
			Cr:            0.8,
			Inertia:       0.729,
			Cognition:     1.494,
			Social:        1.494,
		},
		Logging: LoggingConfig{
			Verbose: false,
		},
	}
}

// ConfigFromFile reads a YAML configuration file and merges it on top
// of the built-in defaults. Fields absent from the file retain their
// defaults.
func ConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// ConfigFromEnv applies environment variable overrides to cfg. If cfg
// is nil a new default Config is created first.
//
// Environment variable mapping (all optional, prefix PBT_):
//
//	PBT_TASK                 -> Run.Task
//	PBT_POPULATION_SIZE      -> Run.PopulationSize
//	PBT_STEP_SIZE            -> Run.StepSize
//	PBT_MAX_STEPS            -> Run.MaxSteps
//	PBT_MAX_GENERATIONS      -> Run.MaxGenerations
//	PBT_SCORE_TARGET         -> Run.ScoreTarget
//	PBT_HIGHER_IS_BETTER     -> Run.HigherIsBetter    ("true"/"false")
//	PBT_N_JOBS               -> Worker.NJobs
//	PBT_DEVICES              -> Worker.Devices        (comma-separated)
//	PBT_DATABASE_PATH        -> Storage.DatabasePath
//	PBT_COMPRESS             -> Storage.Compress       ("true"/"false")
//	PBT_WAL_ENABLED          -> Storage.WALEnabled     ("true"/"false")
//	PBT_FSYNC_POLICY         -> Storage.FsyncPolicy    (always|interval|off)
//	PBT_FSYNC_INTERVAL       -> Storage.FsyncInterval  (duration string)
//	PBT_STARTUP_REPAIR       -> Storage.StartupRepair  ("true"/"false")
//	PBT_EVOLVER_STRATEGY     -> Evolver.Strategy
//	PBT_VERBOSE              -> Logging.Verbose        ("true"/"false")
func ConfigFromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	setEnvStr("PBT_TASK", &cfg.Run.Task)
	setEnvInt("PBT_POPULATION_SIZE", &cfg.Run.PopulationSize)
	setEnvInt("PBT_STEP_SIZE", &cfg.Run.StepSize)
	setEnvInt("PBT_MAX_STEPS", &cfg.Run.MaxSteps)
	setEnvInt("PBT_MAX_GENERATIONS", &cfg.Run.MaxGenerations)
	setEnvFloat("PBT_SCORE_TARGET", &cfg.Run.ScoreTarget)
	setEnvBool("PBT_HIGHER_IS_BETTER", &cfg.Run.HigherIsBetter)

	setEnvInt("PBT_N_JOBS", &cfg.Worker.NJobs)
	setEnvCSV("PBT_DEVICES", &cfg.Worker.Devices)

	setEnvStr("PBT_DATABASE_PATH", &cfg.Storage.DatabasePath)
	setEnvBool("PBT_COMPRESS", &cfg.Storage.Compress)
	setEnvBool("PBT_WAL_ENABLED", &cfg.Storage.WALEnabled)
	setEnvStr("PBT_FSYNC_POLICY", &cfg.Storage.FsyncPolicy)
	setEnvDuration("PBT_FSYNC_INTERVAL", &cfg.Storage.FsyncInterval)
	setEnvBool("PBT_STARTUP_REPAIR", &cfg.Storage.StartupRepair)

	setEnvStr("PBT_EVOLVER_STRATEGY", &cfg.Evolver.Strategy)
	setEnvBool("PBT_VERBOSE", &cfg.Logging.Verbose)

	return cfg
}

// LoadConfig resolves a Config through the first three hierarchy
// layers: defaults, YAML file (if configPath is non-empty), then
// environment variables. The caller applies CLI overrides afterward.
func LoadConfig(configPath string) (*Config, error) {
	var cfg *Config
	if configPath != "" {
		var err error
		cfg, err = ConfigFromFile(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = DefaultConfig()
	}
	return ConfigFromEnv(cfg), nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate performs structural validation of the entire configuration.
// Returns a descriptive error wrapping ErrInvalidConfig for the first
// invalid field encountered, so callers can distinguish a bad
// configuration from a runtime failure.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Run.Task == "" {
		return fmt.Errorf("run.task must not be empty")
	}
	if c.Run.PopulationSize < 1 {
		return fmt.Errorf("run.populationSize must be >= 1, got %d", c.Run.PopulationSize)
	}
	if c.Run.StepSize < 1 {
		return fmt.Errorf("run.stepSize must be >= 1, got %d", c.Run.StepSize)
	}
	if c.Run.MaxSteps < 1 && c.Run.MaxGenerations < 1 {
		return fmt.Errorf("at least one of run.maxSteps or run.maxGenerations must be >= 1")
	}
	if c.Run.MetricSplit == "" {
		return fmt.Errorf("run.metricSplit must not be empty")
	}
	if c.Run.MetricName == "" {
		return fmt.Errorf("run.metricName must not be empty")
	}

	if c.Worker.NJobs < 1 {
		return fmt.Errorf("worker.nJobs must be >= 1, got %d", c.Worker.NJobs)
	}
	if len(c.Worker.Devices) == 0 {
		return fmt.Errorf("worker.devices must list at least one device")
	}
	if c.Worker.NJobs < len(c.Worker.Devices) {
		return fmt.Errorf("worker.nJobs (%d) must be >= len(worker.devices) (%d)", c.Worker.NJobs, len(c.Worker.Devices))
	}

	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.databasePath must not be empty")
	}
	policy := strings.ToLower(strings.TrimSpace(c.Storage.FsyncPolicy))
	if policy != "always" && policy != "interval" && policy != "off" {
		return fmt.Errorf("storage.fsyncPolicy must be one of always|interval|off")
	}
	c.Storage.FsyncPolicy = policy
	if policy == "interval" && c.Storage.FsyncInterval <= 0 {
		return fmt.Errorf("storage.fsyncInterval must be > 0 when storage.fsyncPolicy is interval")
	}
	if policy == "interval" {
		warnIfAggressive("storage.fsyncInterval", c.Storage.FsyncInterval, 100*time.Millisecond)
	}
	if c.Storage.ChecksumValidationInterval < 0 {
		return fmt.Errorf("storage.checksumValidationInterval must be >= 0")
	}
	warnIfAggressive("storage.checksumValidationInterval", c.Storage.ChecksumValidationInterval, time.Second)

	switch c.Evolver.Strategy {
	case "exploit_explore":
		if c.Evolver.ExploitFactor <= 0 || c.Evolver.ExploitFactor >= 1 {
			return fmt.Errorf("evolver.exploitFactor must be in (0,1), got %v", c.Evolver.ExploitFactor)
		}
		if c.Evolver.ExploreLow > c.Evolver.ExploreHigh {
			return fmt.Errorf("evolver.exploreLow (%v) must be <= evolver.exploreHigh (%v)", c.Evolver.ExploreLow, c.Evolver.ExploreHigh)
		}
	case "differential_evolution":
		if c.Evolver.F < 0 || c.Evolver.F > 2 {
			return fmt.Errorf("evolver.f must be in [0,2], got %v", c.Evolver.F)
		}
		if c.Evolver.Cr < 0 || c.Evolver.Cr > 1 {
			return fmt.Errorf("evolver.cr must be in [0,1], got %v", c.Evolver.Cr)
		}
		if c.Run.PopulationSize < 4 {
			return fmt.Errorf("run.populationSize must be >= 4 for differential_evolution, got %d", c.Run.PopulationSize)
		}
	case "particle_swarm":
		// Inertia/Cognition/Social have no hard range requirement, but a
		// zero value for all three would freeze every particle in place.
		if c.Evolver.Inertia == 0 && c.Evolver.Cognition == 0 && c.Evolver.Social == 0 {
			return fmt.Errorf("evolver.inertia, evolver.cognition and evolver.social must not all be zero")
		}
	default:
		return fmt.Errorf("evolver.strategy must be one of exploit_explore|differential_evolution|particle_swarm, got %q", c.Evolver.Strategy)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Environment variable helpers
// ---------------------------------------------------------------------------

func setEnvStr(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setEnvBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func setEnvInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setEnvFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func setEnvDuration(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

func setEnvCSV(key string, target *[]string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		*target = out
	}
}

// ---------------------------------------------------------------------------
// CLI flag overrides: final layer of the configuration hierarchy.
// ---------------------------------------------------------------------------

// CLIOverrides carries optional values set via command-line flags.
// Pointer fields are nil when the flag was not explicitly provided,
// distinguishing "not set" from the zero value.
type CLIOverrides struct {
	ConfigPath     *string
	Task           *string
	PopulationSize *int
	StepSize       *int
	MaxSteps       *int
	MaxGenerations *int
	ScoreTarget    *float64
	NJobs          *int
	Devices        *[]string
	DatabasePath   *string
	Compress       *bool
	EvolverStrategy *string
	Verbose        *bool
}

// ApplyCLIOverrides patches cfg with any explicitly-set CLI flags. Only
// non-nil fields are applied, preserving values resolved from earlier
// hierarchy layers.
func (c *Config) ApplyCLIOverrides(o *CLIOverrides) {
	if o == nil {
		return
	}
	if o.Task != nil {
		c.Run.Task = *o.Task
	}
	if o.PopulationSize != nil {
		c.Run.PopulationSize = *o.PopulationSize
	}
	if o.StepSize != nil {
		c.Run.StepSize = *o.StepSize
	}
	if o.MaxSteps != nil {
		c.Run.MaxSteps = *o.MaxSteps
	}
	if o.MaxGenerations != nil {
		c.Run.MaxGenerations = *o.MaxGenerations
	}
	if o.ScoreTarget != nil {
		c.Run.ScoreTarget = *o.ScoreTarget
	}
	if o.NJobs != nil {
		c.Worker.NJobs = *o.NJobs
	}
	if o.Devices != nil {
		c.Worker.Devices = *o.Devices
	}
	if o.DatabasePath != nil {
		c.Storage.DatabasePath = *o.DatabasePath
	}
	if o.Compress != nil {
		c.Storage.Compress = *o.Compress
	}
	if o.EvolverStrategy != nil {
		c.Evolver.Strategy = *o.EvolverStrategy
	}
	if o.Verbose != nil {
		c.Logging.Verbose = *o.Verbose
	}
}

// warnIfAggressive logs a warning for intervals tight enough to risk
// saturating disk I/O, mirroring the kind of boundary guard a storage
// layer with periodic background work should carry.
func warnIfAggressive(name string, d time.Duration, floor time.Duration) {
	if d > 0 && d < floor {
		log.Printf("WARNING: %s=%v is very aggressive and will increase I/O", name, d)
	}
}
