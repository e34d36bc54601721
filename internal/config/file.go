package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileSettings mirrors the optional YAML settings file. Pointer fields
// distinguish "absent" from zero values so the file only overrides what it
// actually sets; environment variables still win over the file.
type fileSettings struct {
	Targets         *string `yaml:"targets"`
	TargetHost      *string `yaml:"target_host"`
	IntervalSeconds *int    `yaml:"interval_seconds"`

	MTR *struct {
		Enabled        *bool `yaml:"enabled"`
		Cycles         *int  `yaml:"cycles"`
		MaxHops        *int  `yaml:"max_hops"`
		TimeoutSeconds *int  `yaml:"timeout_seconds"`
	} `yaml:"mtr"`

	Log *struct {
		Path          *string `yaml:"path"`
		MaxBytes      *int64  `yaml:"max_bytes"`
		MaxAgeSeconds *int    `yaml:"max_age_seconds"`
		Keep          *int    `yaml:"keep"`
	} `yaml:"log"`

	Webhook *struct {
		URL           *string `yaml:"url"`
		Token         *string `yaml:"token"`
		SkipTLSVerify *bool   `yaml:"skip_tls_verify"`
	} `yaml:"webhook"`

	MQTT *struct {
		Enabled     *bool   `yaml:"enabled"`
		Host        *string `yaml:"host"`
		Port        *int    `yaml:"port"`
		Username    *string `yaml:"username"`
		Password    *string `yaml:"password"`
		TLS         *bool   `yaml:"tls"`
		TopicPrefix *string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`

	OverlayPath *string `yaml:"overlay_path"`
	PublicIPURL *string `yaml:"public_ip_url"`
}

// LoadFile applies an optional YAML settings file onto base. Unlike the
// per-cycle overlay, this runs once at startup and a broken file is a
// startup error rather than a silent fallback.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return base, fmt.Errorf("read settings file %q: %w", path, err)
	}

	var fileCfg fileSettings
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return base, fmt.Errorf("parse settings file %q: %w", path, err)
	}

	cfg := base
	setString(&cfg.Targets, fileCfg.Targets)
	setString(&cfg.DefaultHost, fileCfg.TargetHost)
	setPositive(&cfg.IntervalSec, fileCfg.IntervalSeconds)

	if m := fileCfg.MTR; m != nil {
		setBool(&cfg.Trace.Enabled, m.Enabled)
		setPositive(&cfg.Trace.Cycles, m.Cycles)
		setPositive(&cfg.Trace.MaxHops, m.MaxHops)
		setPositive(&cfg.Trace.TimeoutSec, m.TimeoutSeconds)
	}
	if l := fileCfg.Log; l != nil {
		setString(&cfg.Log.Path, l.Path)
		setPositive64(&cfg.Log.MaxBytes, l.MaxBytes)
		setPositive(&cfg.Log.MaxAgeSec, l.MaxAgeSeconds)
		setPositive(&cfg.Log.Keep, l.Keep)
	}
	if w := fileCfg.Webhook; w != nil {
		setString(&cfg.Webhook.URL, w.URL)
		setString(&cfg.Webhook.Token, w.Token)
		setBool(&cfg.Webhook.SkipTLSVerify, w.SkipTLSVerify)
	}
	if m := fileCfg.MQTT; m != nil {
		setBool(&cfg.MQTT.Enabled, m.Enabled)
		setString(&cfg.MQTT.Host, m.Host)
		setPositive(&cfg.MQTT.Port, m.Port)
		setString(&cfg.MQTT.Username, m.Username)
		setString(&cfg.MQTT.Password, m.Password)
		setBool(&cfg.MQTT.TLS, m.TLS)
		setString(&cfg.MQTT.TopicPrefix, m.TopicPrefix)
	}
	if fileCfg.OverlayPath != nil {
		cfg.OverlayPath = *fileCfg.OverlayPath
	}
	if fileCfg.PublicIPURL != nil {
		cfg.PublicIPURL = *fileCfg.PublicIPURL
	}

	return cfg, nil
}

func setString(dst *string, src *string) {
	if src != nil && *src != "" {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setPositive(dst *int, src *int) {
	if src != nil && *src > 0 {
		*dst = *src
	}
}

func setPositive64(dst *int64, src *int64) {
	if src != nil && *src > 0 {
		*dst = *src
	}
}
