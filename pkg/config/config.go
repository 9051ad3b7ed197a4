package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/verawat1234/tchat-sub013/pkg/validation"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		SendQueueSize   int           `yaml:"send_queue_size"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowAnonymous  bool          `yaml:"allow_anonymous"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		Simulcast     bool          `yaml:"simulcast"`
		MaxBitrate    int           `yaml:"max_bitrate"`
		PLIInterval   time.Duration `yaml:"pli_interval"`
		CloseTimeout  time.Duration `yaml:"close_timeout"`
		GatherTimeout time.Duration `yaml:"gather_timeout"`
	} `yaml:"webrtc"`

	Quality struct {
		SampleInterval    time.Duration `yaml:"sample_interval"`
		SmoothingFactor   float64       `yaml:"smoothing_factor"`
		UpgradeMargin     float64       `yaml:"upgrade_margin"`
		UpgradeHoldDown   time.Duration `yaml:"upgrade_hold_down"`
		DowngradeHoldDown time.Duration `yaml:"downgrade_hold_down"`
	} `yaml:"quality"`

	Cluster struct {
		ServerID          string        `yaml:"server_id"`
		AdvertiseAddress  string        `yaml:"advertise_address"`
		Capacity          int64         `yaml:"capacity"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		HealthTimeout     time.Duration `yaml:"health_timeout"`
		KeyTTL            time.Duration `yaml:"key_ttl"`
		StaleAfter        time.Duration `yaml:"stale_after"`
		OverloadRatio     float64       `yaml:"overload_ratio"`
	} `yaml:"cluster"`

	Recording struct {
		Enabled         bool          `yaml:"enabled"`
		RootDir         string        `yaml:"root_dir"`
		FFmpegPath      string        `yaml:"ffmpeg_path"`
		SegmentDuration time.Duration `yaml:"segment_duration"`
		PlaylistSize    int           `yaml:"playlist_size"`
		StopTimeout     time.Duration `yaml:"stop_timeout"`
		Retention       time.Duration `yaml:"retention"`
		ExpiredGrace    time.Duration `yaml:"expired_grace"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
		Captions        bool          `yaml:"captions"`
		UploadWorkers   int           `yaml:"upload_workers"`
	} `yaml:"recording"`

	Storage struct {
		Backend   string `yaml:"backend"` // "s3" or "file"
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		PathStyle bool   `yaml:"path_style"`
		Prefix    string `yaml:"prefix"`
		PublicURL string `yaml:"public_url"`
		FileDir   string `yaml:"file_dir"`
	} `yaml:"storage"`

	KYC struct {
		Enabled         bool          `yaml:"enabled"`
		Interval        time.Duration `yaml:"interval"`
		MinSellerTier   int           `yaml:"min_seller_tier"`
		LookupTimeout   time.Duration `yaml:"lookup_timeout"`
		BreakerFailures int           `yaml:"breaker_failures"`
	} `yaml:"kyc"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		PrometheusPort    int           `yaml:"prometheus_port"`
		MetricsInterval   time.Duration `yaml:"metrics_interval"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		ServiceName    string  `yaml:"service_name"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"postgres"`

	Auth struct {
		JWTSecret      string   `yaml:"jwt_secret"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
			MaxConcurrent        int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.SendQueueSize <= 0 {
		return fmt.Errorf("signal.send_queue_size must be > 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	for _, s := range c.WebRTC.ICEServers {
		for _, u := range s.URLs {
			if err := validation.ValidateICEURL(u); err != nil {
				return fmt.Errorf("webrtc.ice_servers: %w", err)
			}
		}
	}
	if c.WebRTC.CloseTimeout <= 0 {
		return fmt.Errorf("webrtc.close_timeout must be > 0")
	}

	// Quality
	if c.Quality.SampleInterval <= 0 {
		return fmt.Errorf("quality.sample_interval must be > 0")
	}
	if c.Quality.SmoothingFactor <= 0 || c.Quality.SmoothingFactor > 1 {
		return fmt.Errorf("quality.smoothing_factor must be in (0, 1]")
	}
	if c.Quality.UpgradeMargin < 1 {
		return fmt.Errorf("quality.upgrade_margin must be >= 1")
	}

	// Cluster
	if err := validation.ValidateServerID(c.Cluster.ServerID); err != nil {
		return fmt.Errorf("cluster.server_id: %w", err)
	}
	if c.Cluster.Capacity <= 0 {
		return fmt.Errorf("cluster.capacity must be > 0")
	}
	if c.Cluster.HeartbeatInterval <= 0 || c.Cluster.HealthTimeout <= c.Cluster.HeartbeatInterval {
		return fmt.Errorf("cluster.health_timeout must exceed cluster.heartbeat_interval")
	}
	if c.Cluster.OverloadRatio <= 0 || c.Cluster.OverloadRatio > 1 {
		return fmt.Errorf("cluster.overload_ratio must be in (0, 1]")
	}

	// Recording
	if c.Recording.Enabled {
		if c.Recording.RootDir == "" {
			return fmt.Errorf("recording.root_dir must not be empty when recording.enabled=true")
		}
		if c.Recording.SegmentDuration <= 0 || c.Recording.PlaylistSize <= 0 {
			return fmt.Errorf("recording.segment_duration and playlist_size must be > 0")
		}
		if c.Recording.Retention <= 0 {
			return fmt.Errorf("recording.retention must be > 0")
		}
	}

	// Storage
	switch c.Storage.Backend {
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must not be empty when storage.backend=s3")
		}
	case "file":
		if c.Storage.FileDir == "" {
			return fmt.Errorf("storage.file_dir must not be empty when storage.backend=file")
		}
	default:
		return fmt.Errorf("storage.backend must be s3 or file, got %q", c.Storage.Backend)
	}
	if c.Storage.PublicURL != "" {
		if err := validation.ValidateURL(c.Storage.PublicURL); err != nil {
			return fmt.Errorf("storage.public_url: %w", err)
		}
	}

	// KYC
	if c.KYC.Enabled && c.KYC.Interval <= 0 {
		return fmt.Errorf("kyc.interval must be > 0 when kyc.enabled=true")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Postgres
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn must not be empty when postgres.enabled=true")
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.Address = ":8081"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendQueueSize = 256
	cfg.Signal.ShutdownTimeout = 30 * time.Second

	cfg.WebRTC.Simulcast = true
	cfg.WebRTC.MaxBitrate = 2500
	cfg.WebRTC.PLIInterval = 3 * time.Second
	cfg.WebRTC.CloseTimeout = 5 * time.Second
	cfg.WebRTC.GatherTimeout = 5 * time.Second

	cfg.Quality.SampleInterval = 2 * time.Second
	cfg.Quality.SmoothingFactor = 0.3
	cfg.Quality.UpgradeMargin = 1.2
	cfg.Quality.UpgradeHoldDown = 10 * time.Second
	cfg.Quality.DowngradeHoldDown = 5 * time.Second

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "live-0"
	}
	cfg.Cluster.ServerID = hostname
	cfg.Cluster.AdvertiseAddress = "localhost:8080"
	cfg.Cluster.Capacity = 1000
	cfg.Cluster.HeartbeatInterval = 10 * time.Second
	cfg.Cluster.HealthTimeout = 30 * time.Second
	cfg.Cluster.KeyTTL = time.Hour
	cfg.Cluster.StaleAfter = 30 * time.Second
	cfg.Cluster.OverloadRatio = 0.8

	cfg.Recording.Enabled = true
	cfg.Recording.RootDir = os.TempDir() + "/recordings"
	cfg.Recording.FFmpegPath = "ffmpeg"
	cfg.Recording.SegmentDuration = 6 * time.Second
	cfg.Recording.PlaylistSize = 10
	cfg.Recording.StopTimeout = 30 * time.Second
	cfg.Recording.Retention = 30 * 24 * time.Hour
	cfg.Recording.ExpiredGrace = 7 * 24 * time.Hour
	cfg.Recording.CleanupInterval = time.Hour
	cfg.Recording.UploadWorkers = 4

	cfg.Storage.Backend = "file"
	cfg.Storage.FileDir = os.TempDir() + "/recordings-published"
	cfg.Storage.Region = "us-east-1"
	cfg.Storage.PublicURL = "http://localhost:8080/media"

	cfg.KYC.Enabled = true
	cfg.KYC.Interval = 5 * time.Minute
	cfg.KYC.MinSellerTier = 2
	cfg.KYC.LookupTimeout = 5 * time.Second
	cfg.KYC.BreakerFailures = 5

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090
	cfg.Monitoring.MetricsInterval = 30 * time.Second

	cfg.Tracing.ServiceName = "live-core"
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 0.1

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Postgres.MaxConns = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("LIVE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if addr := os.Getenv("LIVE_SIGNAL_ADDRESS"); addr != "" {
		c.Signal.Address = addr
	}
	if level := os.Getenv("LIVE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("LIVE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if id := os.Getenv("LIVE_SERVER_ID"); id != "" {
		c.Cluster.ServerID = id
	}
	if addr := os.Getenv("LIVE_ADVERTISE_ADDRESS"); addr != "" {
		c.Cluster.AdvertiseAddress = addr
	}
	if v := os.Getenv("LIVE_SERVER_CAPACITY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Cluster.Capacity = n
		}
	}
	if addr := os.Getenv("LIVE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if dsn := os.Getenv("LIVE_POSTGRES_DSN"); dsn != "" {
		c.Postgres.DSN = dsn
		c.Postgres.Enabled = true
	}
	if bucket := os.Getenv("LIVE_S3_BUCKET"); bucket != "" {
		c.Storage.Backend = "s3"
		c.Storage.Bucket = bucket
	}
	if key := os.Getenv("LIVE_S3_ACCESS_KEY"); key != "" {
		c.Storage.AccessKey = key
	}
	if secret := os.Getenv("LIVE_S3_SECRET_KEY"); secret != "" {
		c.Storage.SecretKey = secret
	}
}
