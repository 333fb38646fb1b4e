package domain

import "time"

// Config holds the complete rxwatch configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Upstream prediction service
	Upstream UpstreamConfig `json:"upstream" yaml:"upstream"`

	// View sizing
	Views ViewsConfig `json:"views" yaml:"views"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port" yaml:"port"`
	ReadTimeout    int      `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout   int      `json:"writeTimeout" yaml:"write_timeout"` // seconds
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowed_origins"`
}

// UpstreamConfig points at the prediction service.
type UpstreamConfig struct {
	BaseURL   string        `json:"baseUrl" yaml:"base_url"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	RateLimit float64       `json:"rateLimit" yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst int           `json:"rateBurst" yaml:"rate_burst"`
}

// ViewsConfig sizes the derived views.
type ViewsConfig struct {
	DashboardTopN int `json:"dashboardTopN" yaml:"dashboard_top_n"`
	OverviewTopN  int `json:"overviewTopN" yaml:"overview_top_n"`
	TrendSize     int `json:"trendSize" yaml:"trend_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"service_name"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
// It matches a prediction service on localhost:8000 and a UI dev server on
// localhost:5173.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Upstream: UpstreamConfig{
			BaseURL:   "http://localhost:8000",
			Timeout:   15 * time.Second,
			RateLimit: 5,
			RateBurst: 5,
		},
		Views: ViewsConfig{
			DashboardTopN: 5,
			OverviewTopN:  4,
			TrendSize:     20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "rxwatch",
		},
	}
}
