// Package configfile loads the JSON extraction configuration: the custom
// field mapping and the ordered field list to request from Jira. The file
// is read once at startup and never mutated during a run.
package configfile

import (
	"encoding/json"
	"fmt"
	"os"
)

const DefaultFileName = "jirapull.json"

// Config is the extraction configuration document.
type Config struct {
	// CustomFieldMapping maps a source field ID (customfield_10001) to the
	// display name stored in the database ("Story Points").
	CustomFieldMapping map[string]string `json:"custom_field_mapping,omitempty"`

	// Fields is the ordered list of field names requested from the search
	// endpoint. Empty means the default set below.
	Fields []string `json:"fields,omitempty"`
}

// defaultFields is the standard field set requested when the config file
// does not override it.
var defaultFields = []string{
	"summary",
	"description",
	"issuetype",
	"status",
	"priority",
	"project",
	"assignee",
	"reporter",
	"created",
	"updated",
	"resolutiondate",
	"duedate",
	"labels",
	"components",
	"fixVersions",
	"versions",
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Fields: append([]string(nil), defaultFields...),
	}
}

// Load reads the configuration at path. A missing file is not an error and
// yields the default configuration; a file that exists but does not parse
// is.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = append([]string(nil), defaultFields...)
	}
	return &cfg, nil
}

// Save writes the configuration to path, pretty-printed.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
