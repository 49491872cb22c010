package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type decoder struct {
	name      string
	unmarshal func([]byte, any) error
}

var (
	yamlDecoder = decoder{"yaml", yaml.Unmarshal}
	jsonDecoder = decoder{"json", json.Unmarshal}
	tomlDecoder = decoder{"toml", toml.Unmarshal}
)

// decodersFor picks decoders by extension. Unknown extensions try YAML,
// then JSON.
func decodersFor(path string) []decoder {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return []decoder{yamlDecoder}
	case ".json":
		return []decoder{jsonDecoder}
	case ".toml":
		return []decoder{tomlDecoder}
	}
	return []decoder{yamlDecoder, jsonDecoder}
}

// LoadFile decodes the config file at path on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var errs []string
	for _, d := range decodersFor(path) {
		cfg := DefaultConfig()
		if err := d.unmarshal(data, cfg); err != nil {
			errs = append(errs, d.name+": "+err.Error())
			continue
		}
		applyDefaults(cfg)
		return cfg, nil
	}
	return nil, fmt.Errorf("parse %s: %s", filepath.Base(path), strings.Join(errs, "; "))
}
