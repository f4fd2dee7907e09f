package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"planetcore/internal/config"
)

// writeConfigFromEnv materialises a configuration handed to the container
// through PLANET_CONFIG_JSON or PLANET_CONFIG_YAML_B64 at cfgPath. The file
// is always written as JSON, which both loader formats accept.
func writeConfigFromEnv(cfgPath string) (bool, error) {
	jsonPayload := os.Getenv("PLANET_CONFIG_JSON")
	yamlPayload := os.Getenv("PLANET_CONFIG_YAML_B64")

	if jsonPayload == "" && yamlPayload == "" {
		return false, nil
	}
	if cfgPath == "" {
		return false, errors.New("configuration provided in environment but no --config path supplied")
	}

	var doc any
	if jsonPayload != "" {
		if err := json.Unmarshal([]byte(jsonPayload), &doc); err != nil {
			return false, fmt.Errorf("decode config json: %w", err)
		}
	} else {
		data, err := base64.StdEncoding.DecodeString(yamlPayload)
		if err != nil {
			return false, fmt.Errorf("decode config yaml: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return false, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal config json: %w", err)
	}

	dir := filepath.Dir(cfgPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create config directory: %w", err)
		}
	}
	tmp := cfgPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return false, fmt.Errorf("write config file: %w", err)
	}
	// Load runs the schema and semantic checks; a bad payload never
	// replaces the file on disk.
	if _, err := config.Load(tmp); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	if err := os.Rename(tmp, cfgPath); err != nil {
		return false, fmt.Errorf("install config file: %w", err)
	}
	return true, nil
}
