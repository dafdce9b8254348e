package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultFile = "festrouter.yaml"

// Config holds the router configuration.
type Config struct {
	Listen      string   `yaml:"listen"`
	Name        string   `yaml:"name"`
	JWTSecret   string   `yaml:"jwtSecret"`
	CORSOrigins []string `yaml:"corsOrigins"`

	Store StoreConfig `yaml:"store"`

	GatheringTimeout time.Duration `yaml:"gatheringTimeout"`
	RestoreTimeout   time.Duration `yaml:"restoreTimeout"`
	ResumeDelay      time.Duration `yaml:"resumeDelay"`
	UDPPortMin       uint16        `yaml:"udpPortMin"`
	UDPPortMax       uint16        `yaml:"udpPortMax"`
}

type StoreConfig struct {
	Kind          string        `yaml:"kind"`
	Path          string        `yaml:"path"`
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	RedisKey      string        `yaml:"redisKey"`
}

// ClientConfig is what the endpoint and operator commands need.
type ClientConfig struct {
	RouterURL string
	Token     string
}

func Default() *Config {
	return &Config{
		Listen: ":8080",
		Name:   "Fest Router",
		Store: StoreConfig{
			Kind:      "file",
			Path:      "festrouter-state.json",
			TTL:       7 * 24 * time.Hour,
			RedisAddr: "localhost:6379",
			RedisKey:  "festrouter:snapshot",
		},
		GatheringTimeout: 10 * time.Second,
		RestoreTimeout:   15 * time.Second,
		ResumeDelay:      time.Second,
	}
}

// Load reads configuration from a .env file (if present), then the YAML file
// named by FEST_CONFIG (or festrouter.yaml when it exists), then FEST_*
// environment variables. Environment variables take precedence.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := Default()
	path, explicit := os.LookupEnv("FEST_CONFIG")
	if !explicit {
		path = defaultFile
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient reads FEST_ROUTER_URL and FEST_TOKEN.
func LoadClient() *ClientConfig {
	_ = godotenv.Load()

	url := os.Getenv("FEST_ROUTER_URL")
	if url == "" {
		url = "http://localhost:8080"
	}
	return &ClientConfig{
		RouterURL: strings.TrimRight(url, "/"),
		Token:     os.Getenv("FEST_TOKEN"),
	}
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"FEST_LISTEN":         &c.Listen,
		"FEST_NAME":           &c.Name,
		"FEST_JWT_SECRET":     &c.JWTSecret,
		"FEST_STORE":          &c.Store.Kind,
		"FEST_STORE_PATH":     &c.Store.Path,
		"FEST_REDIS_ADDR":     &c.Store.RedisAddr,
		"FEST_REDIS_PASSWORD": &c.Store.RedisPassword,
		"FEST_REDIS_KEY":      &c.Store.RedisKey,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("FEST_CORS_ORIGINS"); ok {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}

	durations := map[string]*time.Duration{
		"FEST_STORE_TTL":         &c.Store.TTL,
		"FEST_GATHERING_TIMEOUT": &c.GatheringTimeout,
		"FEST_RESTORE_TIMEOUT":   &c.RestoreTimeout,
		"FEST_RESUME_DELAY":      &c.ResumeDelay,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v, ok := os.LookupEnv("FEST_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FEST_REDIS_DB: %w", err)
		}
		c.Store.RedisDB = db
	}
	if v, ok := os.LookupEnv("FEST_UDP_PORTS"); ok {
		lo, hi, err := parsePortRange(v)
		if err != nil {
			return fmt.Errorf("FEST_UDP_PORTS: %w", err)
		}
		c.UDPPortMin, c.UDPPortMax = lo, hi
	}
	return nil
}

// parsePortRange reads "min-max".
func parsePortRange(v string) (uint16, uint16, error) {
	a, b, ok := strings.Cut(v, "-")
	if !ok {
		return 0, 0, fmt.Errorf("expected min-max, got %q", v)
	}
	lo, err := strconv.ParseUint(strings.TrimSpace(a), 10, 16)
	if err != nil {
		return 0, 0, err
	}
	hi, err := strconv.ParseUint(strings.TrimSpace(b), 10, 16)
	if err != nil {
		return 0, 0, err
	}
	return uint16(lo), uint16(hi), nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	switch c.Store.Kind {
	case "none":
	case "file":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store path is required for the file store"))
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store kind %q", c.Store.Kind))
	}
	if c.Store.TTL <= 0 {
		errs = append(errs, errors.New("store ttl must be positive"))
	}
	if c.GatheringTimeout <= 0 || c.RestoreTimeout <= 0 || c.ResumeDelay <= 0 {
		errs = append(errs, errors.New("timeouts and resume delay must be positive"))
	}
	if (c.UDPPortMin == 0) != (c.UDPPortMax == 0) || c.UDPPortMin > c.UDPPortMax {
		errs = append(errs, fmt.Errorf("invalid udp port range %d-%d", c.UDPPortMin, c.UDPPortMax))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
