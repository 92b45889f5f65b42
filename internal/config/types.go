// Package config resolves, parses, validates, and defaults argus configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by argus.
type Config struct {
	Endpoint EndpointConfig
	Limits   LimitsConfig
	Client   ClientConfig
	Service  ServiceConfig
	Server   ServerConfig
	Log      LogConfig
	Analyzer AnalyzerConfig
	Report   ReportConfig
}

// EndpointConfig locates the service socket and lock marker.
type EndpointConfig struct {
	Socket             string
	Lock               string
	PollIntervalMS     int
	HandshakeTimeoutMS int
}

// LimitsConfig bounds one logical message and its transport chunks.
type LimitsConfig struct {
	MaxMessageBytes int64
	ChunkBytes      int
}

// ClientConfig controls the retry budget and crash diagnostics.
type ClientConfig struct {
	Attempts  int
	BackoffMS int
	TailLines int
}

// ServiceConfig controls how the client starts a missing service.
type ServiceConfig struct {
	StartCmd CommandConfig
}

// ServerConfig controls per-session runtime behavior.
type ServerConfig struct {
	SuspendGC bool
}

// LogConfig controls the rotating log files.
type LogConfig struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	Stdout     bool
}

// AnalyzerConfig locates the inference backend RPC.
type AnalyzerConfig struct {
	GRPC          string
	Method        string
	DialTimeoutMS int
	CallTimeoutMS int
	HealthService string
}

// ReportConfig controls CSV output.
type ReportConfig struct {
	Enable bool
	Dir    string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

func (e EndpointConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalMS) * time.Millisecond
}

func (e EndpointConfig) HandshakeTimeout() time.Duration {
	return time.Duration(e.HandshakeTimeoutMS) * time.Millisecond
}

func (c ClientConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMS) * time.Millisecond
}

func (a AnalyzerConfig) DialTimeout() time.Duration {
	return time.Duration(a.DialTimeoutMS) * time.Millisecond
}

func (a AnalyzerConfig) CallTimeout() time.Duration {
	return time.Duration(a.CallTimeoutMS) * time.Millisecond
}
