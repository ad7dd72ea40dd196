package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Sim struct {
	Speed        float64       // simulated seconds per wall second
	PollInterval time.Duration // ticker wall polling interval
	Workers      int           // bot executor size, 0 means one per CPU
	DrainTimeout time.Duration // bound on executor drain at shutdown
	AutoStart    bool          // start running instead of paused
	// SnapshotInterval is the wall time between periodic snapshots; 0 disables
	// them and only the final snapshot at shutdown is written.
	SnapshotInterval time.Duration
}

type Storage struct {
	DataDir  string // pebble directory
	SeedFile string // YAML seed used when no snapshot exists
	Journal  string // trade journal path, empty disables it
}

type API struct {
	Addr        string
	CORSOrigins []string
}

// User is the human trader created on first start.
type User struct {
	ID      string
	Name    string
	Balance decimal.Decimal
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	Sim     Sim
	Storage Storage
	API     API
	User    User
	Log     Log
	// GenBots adds that many generated bots when starting from the seed file.
	GenBots int
}

func Default() Config {
	return Config{
		Sim: Sim{
			Speed:            1,
			PollInterval:     100 * time.Millisecond,
			DrainTimeout:     5 * time.Second,
			AutoStart:        true,
			SnapshotInterval: 30 * time.Second,
		},
		Storage: Storage{
			DataDir:  "data/db",
			SeedFile: "params/seed.yaml",
			Journal:  "data/trades.jsonl",
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		User: User{
			ID:      "player",
			Name:    "Player",
			Balance: decimal.NewFromInt(100000),
		},
		Log: Log{
			File:  "data/stocksim.log",
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	var errs error
	parse := func(key string, fn func(string) error) {
		if v := os.Getenv(key); v != "" {
			if err := fn(v); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "%s=%q", key, v))
			}
		}
	}

	parse("SIM_SPEED", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil && f < 0 {
			err = errors.New("speed cannot be negative")
		}
		cfg.Sim.Speed = f
		return err
	})
	parse("SIM_POLL_MS", func(v string) (err error) {
		cfg.Sim.PollInterval, err = millis(v)
		return err
	})
	parse("SIM_WORKERS", func(v string) (err error) {
		cfg.Sim.Workers, err = strconv.Atoi(v)
		return err
	})
	parse("SIM_DRAIN_TIMEOUT_MS", func(v string) (err error) {
		cfg.Sim.DrainTimeout, err = millis(v)
		return err
	})
	parse("SIM_AUTOSTART", func(v string) (err error) {
		cfg.Sim.AutoStart, err = strconv.ParseBool(v)
		return err
	})
	parse("SIM_SNAPSHOT_INTERVAL_S", func(v string) error {
		s, err := strconv.Atoi(v)
		cfg.Sim.SnapshotInterval = time.Duration(s) * time.Second
		return err
	})
	parse("USER_BALANCE", func(v string) (err error) {
		cfg.User.Balance, err = decimal.NewFromString(v)
		return err
	})
	parse("GEN_BOTS", func(v string) (err error) {
		cfg.GenBots, err = strconv.Atoi(v)
		return err
	})

	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.SeedFile = getEnv("SEED_FILE", cfg.Storage.SeedFile)
	cfg.Storage.Journal = getEnv("TRADE_JOURNAL", cfg.Storage.Journal)
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.User.ID = getEnv("USER_ID", cfg.User.ID)
	cfg.User.Name = getEnv("USER_NAME", cfg.User.Name)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	// Origins from comma-separated list, e.g. "http://localhost:3000,https://sim.example"
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.API.CORSOrigins = append(cfg.API.CORSOrigins, o)
			}
		}
	}

	return cfg, errs
}

func millis(v string) (time.Duration, error) {
	ms, err := strconv.Atoi(v)
	return time.Duration(ms) * time.Millisecond, err
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
