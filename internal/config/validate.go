package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Endpoint.Socket) == "" {
		return nil, fmt.Errorf("endpoint.socket must not be empty")
	}
	if strings.TrimSpace(cfg.Endpoint.Lock) == "" {
		return nil, fmt.Errorf("endpoint.lock must not be empty")
	}
	if cfg.Endpoint.Lock == cfg.Endpoint.Socket {
		return nil, fmt.Errorf("endpoint.lock must differ from endpoint.socket")
	}
	if cfg.Endpoint.PollIntervalMS <= 0 {
		return nil, fmt.Errorf("endpoint.poll_interval_ms must be > 0")
	}
	if cfg.Endpoint.HandshakeTimeoutMS <= 0 {
		return nil, fmt.Errorf("endpoint.handshake_timeout_ms must be > 0")
	}

	if cfg.Limits.MaxMessageBytes <= 0 {
		return nil, fmt.Errorf("limits.max_message_bytes must be > 0")
	}
	if cfg.Limits.ChunkBytes <= 0 {
		return nil, fmt.Errorf("limits.chunk_bytes must be > 0")
	}
	if int64(cfg.Limits.ChunkBytes) > cfg.Limits.MaxMessageBytes {
		return nil, fmt.Errorf("limits.chunk_bytes must not exceed limits.max_message_bytes")
	}
	if int64(cfg.Limits.ChunkBytes) > 1<<32-1 {
		return nil, fmt.Errorf("limits.chunk_bytes must fit in 32 bits")
	}

	if cfg.Client.Attempts <= 0 {
		return nil, fmt.Errorf("client.attempts must be > 0")
	}
	if cfg.Client.BackoffMS < 0 {
		return nil, fmt.Errorf("client.backoff_ms must be >= 0")
	}
	if cfg.Client.TailLines < 0 {
		return nil, fmt.Errorf("client.tail_lines must be >= 0")
	}

	if cfg.Service.StartCmd.Raw != "" && len(cfg.Service.StartCmd.Argv) == 0 {
		return nil, fmt.Errorf("service.start_cmd is configured but empty")
	}

	if cfg.Log.MaxSizeMB <= 0 {
		return nil, fmt.Errorf("log.max_size_mb must be > 0")
	}
	if cfg.Log.MaxBackups < 0 {
		return nil, fmt.Errorf("log.max_backups must be >= 0")
	}

	if strings.TrimSpace(cfg.Analyzer.GRPC) == "" {
		return nil, fmt.Errorf("analyzer.grpc must not be empty")
	}
	if err := validateMethod(cfg.Analyzer.Method); err != nil {
		return nil, err
	}
	if cfg.Analyzer.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("analyzer.dial_timeout_ms must be > 0")
	}
	if cfg.Analyzer.CallTimeoutMS < 0 {
		return nil, fmt.Errorf("analyzer.call_timeout_ms must be >= 0")
	}

	if cfg.Client.BackoffMS < cfg.Endpoint.PollIntervalMS {
		warnings = append(warnings, Warning{Message: fmt.Sprintf(
			"client.backoff_ms=%d is shorter than endpoint.poll_interval_ms=%d; busy retries may exhaust early",
			cfg.Client.BackoffMS, cfg.Endpoint.PollIntervalMS,
		)})
	}

	return warnings, nil
}

func validateMethod(method string) error {
	parts := strings.Split(method, "/")
	if len(parts) != 3 || parts[0] != "" || parts[1] == "" || parts[2] == "" {
		return fmt.Errorf("analyzer.method must have the form /service/method")
	}
	return nil
}
