// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads process-level bootstrap configuration (listen
// addresses, the registry's provider table, log level — spec.md §6
// "operational environment") via viper, mirroring the teacher's
// api/integration-api/config pattern. Per-call ConfigSnapshot values come
// from a ConfigRepositoryPort instead (see repository.go) — viper never
// touches the hot path.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Bootstrap is the process-wide configuration read once at startup.
type Bootstrap struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	HealthAddr      string `mapstructure:"health_addr"`
	LogLevel        string `mapstructure:"log_level"`
	LogJSON         bool   `mapstructure:"log_json"`
	LogFilePath     string `mapstructure:"log_file_path"`
	RedisAddr       string `mapstructure:"redis_addr"`
	SinkDSN         string `mapstructure:"sink_dsn"`
	DefaultSTT      string `mapstructure:"default_stt_provider"`
	DefaultLLM      string `mapstructure:"default_llm_provider"`
	DefaultTTS      string `mapstructure:"default_tts_provider"`
}

// Load reads bootstrap config from (in ascending priority) defaults, a
// config file named cfgName under cfgPaths, and VOICEORC_-prefixed
// environment variables.
func Load(cfgName string, cfgPaths ...string) (Bootstrap, error) {
	v := viper.New()
	v.SetConfigName(cfgName)
	v.SetConfigType("yaml")
	for _, p := range cfgPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("VOICEORC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8443")
	v.SetDefault("health_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
	v.SetDefault("default_stt_provider", "deepgram")
	v.SetDefault("default_llm_provider", "openai")
	v.SetDefault("default_tts_provider", "cartesia")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Bootstrap{}, fmt.Errorf("config: reading bootstrap config: %w", err)
		}
	}

	var b Bootstrap
	if err := v.Unmarshal(&b); err != nil {
		return Bootstrap{}, fmt.Errorf("config: unmarshalling bootstrap config: %w", err)
	}
	return b, nil
}
