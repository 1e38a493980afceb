// Package config loads tiercache settings from YAML with TIERCACHE_* env
// overrides and builds the coordinator, pool and queue from them.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/tiercache/pool"
)

// Duration accepts Go durations plus days and weeks ("1d12h", "2w").
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := parseDuration(n.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", n.Line)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return str2duration.String(time.Duration(d)), nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	if strings.HasPrefix(s, "-") {
		v, err := str2duration.ParseDuration(s[1:])
		return -v, err
	}
	return str2duration.ParseDuration(s)
}

type Memory struct {
	Kind            string   `yaml:"kind"` // memory | bigcache | ristretto
	Shards          int      `yaml:"shards"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	LifeWindow      Duration `yaml:"life_window"` // bigcache
	MaxSizeMB       int      `yaml:"max_size_mb"` // bigcache hard cap; ristretto MaxCost
}

type Redis struct {
	Addr      string   `yaml:"addr"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	Namespace string   `yaml:"namespace"`
	GenTTL    Duration `yaml:"gen_ttl"`
}

type S3 struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Profile  string `yaml:"profile"`
	Endpoint string `yaml:"endpoint"`
}

type Shared struct {
	Kind  string `yaml:"kind"` // "" | redis | s3
	Redis Redis  `yaml:"redis"`
	S3    S3     `yaml:"s3"`
}

type Disk struct {
	Dir    string   `yaml:"dir"` // "" disables the disk tier
	MaxAge Duration `yaml:"max_age"`
}

type Pool struct {
	Workers int    `yaml:"workers"`
	Mode    string `yaml:"mode"`
}

type Queue struct {
	PollInterval Duration `yaml:"poll_interval"`
	StopTimeout  Duration `yaml:"stop_timeout"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Config struct {
	Memory Memory `yaml:"memory"`
	Shared Shared `yaml:"shared"`
	Disk   Disk   `yaml:"disk"`

	// GenStore is "local" or "redis"; redis requires shared.redis.addr.
	GenStore     string   `yaml:"genstore"`
	TierTimeout  Duration `yaml:"tier_timeout"`
	TierCooldown Duration `yaml:"tier_cooldown"`
	LockStripes  int      `yaml:"lock_stripes"`

	Pool  Pool  `yaml:"pool"`
	Queue Queue `yaml:"queue"`
	Log   Log   `yaml:"log"`

	// Source is the file the config was read from, if any.
	Source string `yaml:"-"`
}

func Default() Config {
	return Config{
		Memory:   Memory{Kind: "memory"},
		GenStore: "local",
		Pool:     Pool{Mode: "thread"},
		Queue: Queue{
			PollInterval: Duration(100 * time.Millisecond),
			StopTimeout:  Duration(5 * time.Second),
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over Default, applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "config: read")
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: parse %s", path)
		}
		cfg.Source = path
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

const envPrefix = "TIERCACHE_"

// applyEnv overrides fields from TIERCACHE_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"MEMORY_KIND":    &c.Memory.Kind,
		"SHARED_KIND":    &c.Shared.Kind,
		"REDIS_ADDR":     &c.Shared.Redis.Addr,
		"REDIS_PASSWORD": &c.Shared.Redis.Password,
		"REDIS_NS":       &c.Shared.Redis.Namespace,
		"S3_BUCKET":      &c.Shared.S3.Bucket,
		"S3_PREFIX":      &c.Shared.S3.Prefix,
		"S3_REGION":      &c.Shared.S3.Region,
		"S3_PROFILE":     &c.Shared.S3.Profile,
		"S3_ENDPOINT":    &c.Shared.S3.Endpoint,
		"DISK_DIR":       &c.Disk.Dir,
		"GENSTORE":       &c.GenStore,
		"MODE":           &c.Pool.Mode,
		"LOG_LEVEL":      &c.Log.Level,
	}
	for name, dst := range str {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REDIS_DB":     &c.Shared.Redis.DB,
		"WORKERS":      &c.Pool.Workers,
		"LOCK_STRIPES": &c.LockStripes,
	}
	for name, dst := range ints {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "config: %s%s", envPrefix, name)
		}
		*dst = n
	}

	durs := map[string]*Duration{
		"TIER_TIMEOUT":  &c.TierTimeout,
		"TIER_COOLDOWN": &c.TierCooldown,
		"DISK_MAX_AGE":  &c.Disk.MaxAge,
		"POLL_INTERVAL": &c.Queue.PollInterval,
		"STOP_TIMEOUT":  &c.Queue.StopTimeout,
	}
	for name, dst := range durs {
		v, ok := lookup(envPrefix + name)
		if !ok {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "config: %s%s", envPrefix, name)
		}
		*dst = Duration(d)
	}

	if v, ok := lookup(envPrefix + "LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "config: %sLOG_JSON", envPrefix)
		}
		c.Log.JSON = b
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Memory.Kind {
	case "", "memory", "bigcache", "ristretto":
	default:
		return errors.Newf("config: unknown memory.kind %q", c.Memory.Kind)
	}
	switch c.Shared.Kind {
	case "":
	case "redis":
		if c.Shared.Redis.Addr == "" {
			return errors.New("config: shared.redis.addr is required")
		}
	case "s3":
		if c.Shared.S3.Bucket == "" {
			return errors.New("config: shared.s3.bucket is required")
		}
	default:
		return errors.Newf("config: unknown shared.kind %q", c.Shared.Kind)
	}
	switch c.GenStore {
	case "", "local":
	case "redis":
		if c.Shared.Redis.Addr == "" {
			return errors.New("config: genstore redis needs shared.redis.addr")
		}
	default:
		return errors.Newf("config: unknown genstore %q", c.GenStore)
	}
	if _, err := pool.ParseMode(c.Pool.Mode); err != nil {
		return errors.Wrap(err, "config")
	}
	if c.Pool.Workers < 0 {
		return errors.New("config: pool.workers must be >= 0")
	}
	return nil
}
