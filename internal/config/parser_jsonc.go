package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

type jsoncConfig struct {
	Endpoint *jsoncEndpoint `json:"endpoint"`
	Limits   *jsoncLimits   `json:"limits"`
	Client   *jsoncClient   `json:"client"`
	Service  *jsoncService  `json:"service"`
	Server   *jsoncServer   `json:"server"`
	Log      *jsoncLog      `json:"log"`
	Analyzer *jsoncAnalyzer `json:"analyzer"`
	Report   *jsoncReport   `json:"report"`
}

type jsoncEndpoint struct {
	Socket             *string `json:"socket"`
	Lock               *string `json:"lock"`
	PollIntervalMS     *int    `json:"poll_interval_ms"`
	HandshakeTimeoutMS *int    `json:"handshake_timeout_ms"`
}

type jsoncLimits struct {
	MaxMessageBytes *int64 `json:"max_message_bytes"`
	ChunkBytes      *int   `json:"chunk_bytes"`
}

type jsoncClient struct {
	Attempts  *int `json:"attempts"`
	BackoffMS *int `json:"backoff_ms"`
	TailLines *int `json:"tail_lines"`
}

type jsoncService struct {
	StartCmd *string `json:"start_cmd"`
}

type jsoncServer struct {
	SuspendGC *bool `json:"suspend_gc"`
}

type jsoncLog struct {
	Dir        *string `json:"dir"`
	MaxSizeMB  *int    `json:"max_size_mb"`
	MaxBackups *int    `json:"max_backups"`
	Stdout     *bool   `json:"stdout"`
}

type jsoncAnalyzer struct {
	GRPC          *string `json:"grpc"`
	Method        *string `json:"method"`
	DialTimeoutMS *int    `json:"dial_timeout_ms"`
	CallTimeoutMS *int    `json:"call_timeout_ms"`
	HealthService *string `json:"health_service"`
}

type jsoncReport struct {
	Enable *bool   `json:"enable"`
	Dir    *string `json:"dir"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if e := payload.Endpoint; e != nil {
		if e.Socket != nil {
			cfg.Endpoint.Socket = expandHome(strings.TrimSpace(*e.Socket))
			if e.Lock == nil {
				cfg.Endpoint.Lock = filepath.Join(filepath.Dir(cfg.Endpoint.Socket), lockName)
			}
		}
		if e.Lock != nil {
			cfg.Endpoint.Lock = expandHome(strings.TrimSpace(*e.Lock))
		}
		if e.PollIntervalMS != nil {
			cfg.Endpoint.PollIntervalMS = *e.PollIntervalMS
		}
		if e.HandshakeTimeoutMS != nil {
			cfg.Endpoint.HandshakeTimeoutMS = *e.HandshakeTimeoutMS
		}
	}

	if l := payload.Limits; l != nil {
		if l.MaxMessageBytes != nil {
			cfg.Limits.MaxMessageBytes = *l.MaxMessageBytes
		}
		if l.ChunkBytes != nil {
			cfg.Limits.ChunkBytes = *l.ChunkBytes
		}
	}

	if c := payload.Client; c != nil {
		if c.Attempts != nil {
			cfg.Client.Attempts = *c.Attempts
		}
		if c.BackoffMS != nil {
			cfg.Client.BackoffMS = *c.BackoffMS
		}
		if c.TailLines != nil {
			cfg.Client.TailLines = *c.TailLines
		}
	}

	if payload.Service != nil && payload.Service.StartCmd != nil {
		raw := *payload.Service.StartCmd
		argv, err := parseArgv(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid service.start_cmd: %w", err)
		}
		cfg.Service.StartCmd = CommandConfig{Raw: raw, Argv: argv}
	}

	if payload.Server != nil && payload.Server.SuspendGC != nil {
		cfg.Server.SuspendGC = *payload.Server.SuspendGC
	}

	if l := payload.Log; l != nil {
		if l.Dir != nil {
			cfg.Log.Dir = expandHome(strings.TrimSpace(*l.Dir))
		}
		if l.MaxSizeMB != nil {
			cfg.Log.MaxSizeMB = *l.MaxSizeMB
		}
		if l.MaxBackups != nil {
			cfg.Log.MaxBackups = *l.MaxBackups
		}
		if l.Stdout != nil {
			cfg.Log.Stdout = *l.Stdout
		}
	}

	if a := payload.Analyzer; a != nil {
		if a.GRPC != nil {
			cfg.Analyzer.GRPC = strings.TrimSpace(*a.GRPC)
		}
		if a.Method != nil {
			cfg.Analyzer.Method = strings.TrimSpace(*a.Method)
		}
		if a.DialTimeoutMS != nil {
			cfg.Analyzer.DialTimeoutMS = *a.DialTimeoutMS
		}
		if a.CallTimeoutMS != nil {
			cfg.Analyzer.CallTimeoutMS = *a.CallTimeoutMS
		}
		if a.HealthService != nil {
			cfg.Analyzer.HealthService = strings.TrimSpace(*a.HealthService)
		}
	}

	if r := payload.Report; r != nil {
		if r.Enable != nil {
			cfg.Report.Enable = *r.Enable
		}
		if r.Dir != nil {
			cfg.Report.Dir = expandHome(strings.TrimSpace(*r.Dir))
		}
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
