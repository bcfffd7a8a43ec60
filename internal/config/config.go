// Package config loads and validates the engine configuration. Config files
// are JSON, may carry // and /* */ comments, and are checked against an
// embedded schema before use.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tinode/jsonco"
)

// Config is the recognized option surface.
type Config struct {
	// Server is the base URL of the remote chat service.
	Server string `json:"server,omitempty"`
	// TokenFile is where the session token is persisted between runs.
	TokenFile string `json:"token_file,omitempty"`
	Polling   PollingConfig `json:"polling"`
}

// PollingConfig carries the poll cadence knobs, all in milliseconds.
type PollingConfig struct {
	// BaseInterval is the minimum interval between poll attempts.
	BaseInterval int `json:"base_interval"`
	// ActiveUserThreshold is how long before an unselected user counts as
	// inactive.
	ActiveUserThreshold int `json:"active_user_threshold"`
	// InactiveUserInterval is the minimum time between polls that include
	// inactive users.
	InactiveUserInterval int `json:"inactive_user_interval"`
	// MaxConcurrentPolls bounds in-flight polls, stopping request pile-up
	// when responses take longer than the interval.
	MaxConcurrentPolls int `json:"max_concurrent_polls"`
}

func (p PollingConfig) Interval() time.Duration {
	return time.Duration(p.BaseInterval) * time.Millisecond
}

func (p PollingConfig) ActiveThreshold() time.Duration {
	return time.Duration(p.ActiveUserThreshold) * time.Millisecond
}

func (p PollingConfig) InactiveInterval() time.Duration {
	return time.Duration(p.InactiveUserInterval) * time.Millisecond
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Polling: PollingConfig{
			BaseInterval:         1200,
			ActiveUserThreshold:  12000,
			InactiveUserInterval: 6000,
			MaxConcurrentPolls:   1,
		},
	}
}

const schemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"server": {"type": "string"},
		"token_file": {"type": "string"},
		"polling": {
			"type": "object",
			"properties": {
				"base_interval": {"type": "integer", "minimum": 1},
				"active_user_threshold": {"type": "integer", "minimum": 1},
				"inactive_user_interval": {"type": "integer", "minimum": 1},
				"max_concurrent_polls": {"type": "integer", "minimum": 1}
			},
			"additionalProperties": false
		}
	},
	"additionalProperties": false
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("relaychat-config.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("relaychat-config.json")
	})
	return schema, schemaErr
}

// Load reads, validates and decodes the config file at path, layering it over
// the defaults. Syntax errors are reported with line and character position.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	jr := jsonco.New(bytes.NewReader(raw))
	var doc any
	if err := json.NewDecoder(jr).Decode(&doc); err != nil {
		switch serr := err.(type) {
		case *json.SyntaxError:
			line, char, _ := jr.LineAndChar(serr.Offset)
			return nil, fmt.Errorf("config %s: syntax error at %d:%d: %w", path, line, char, err)
		default:
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg := Default()
	jr = jsonco.New(bytes.NewReader(raw))
	if err := json.NewDecoder(jr).Decode(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
