// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/activity"
	"github.com/dtn7/web-activities/pkg/playground"
	"github.com/dtn7/web-activities/pkg/window"
)

type ConfigError struct {
	message string
	cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{message: message, cause: cause}
}

func (e *ConfigError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("Error during config parsing: %v", e.message)
	}
	return fmt.Sprintf("Error during config parsing: %v: %v", e.message, e.cause)
}

func (e *ConfigError) Unwrap() error { return e.cause }

type storeBackend string

const (
	backendMemory storeBackend = "memory"
	backendBadger storeBackend = "badger"
	backendRedis  storeBackend = "redis"
)

type config struct {
	LogLevel  log.Level
	Publisher string
	API       apiConfig
	Store     storeConfig
	Ports     portsConfig
	Flows     []playground.Flow
	Bridge    bridgeConfig
}

type tomlConfig struct {
	LogLevel  string `toml:"log_level"`
	Publisher string
	API       apiConfig
	Store     tomlStoreConfig
	Ports     tomlPortsConfig
	Flow      []tomlFlowConfig
	Bridge    bridgeConfig
}

type apiConfig struct {
	Address string
}

type tomlStoreConfig struct {
	Backend       string
	Path          string
	RedisAddress  string `toml:"redis_address"`
	TTL           string `toml:"ttl"`
	SweepInterval string `toml:"sweep_interval"`
}

type storeConfig struct {
	Backend       storeBackend
	Path          string
	RedisAddress  string
	TTL           time.Duration
	SweepInterval time.Duration
}

type tomlPortsConfig struct {
	PollInterval   string `toml:"poll_interval"`
	CloseGrace     string `toml:"close_grace"`
	ConnectTimeout string `toml:"connect_timeout"`
}

type portsConfig struct {
	PollInterval   time.Duration
	CloseGrace     time.Duration
	ConnectTimeout time.Duration
}

type tomlFlowConfig struct {
	Origin  string
	Outcome string
	Data    string
	Reason  string
	Delay   string
	Height  int
}

// bridgeConfig lists the origins served by remote pages over websockets.
type bridgeConfig struct {
	Origins []string
}

// parseDuration reads an optional duration; an empty value yields fallback.
func parseDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, NewConfigError("Error parsing "+name, err)
	}
	if duration < 0 {
		return 0, NewConfigError(name+" must not be negative", nil)
	}
	return duration, nil
}

func parse(filename string) (config, error) {
	var tomlConf tomlConfig
	if _, err := toml.DecodeFile(filename, &tomlConf); err != nil {
		return config{}, NewConfigError("Error parsing toml", err)
	}
	return tomlConf.validate()
}

func (tomlConf tomlConfig) validate() (config, error) {
	conf := config{
		LogLevel:  log.InfoLevel,
		Publisher: tomlConf.Publisher,
		API:       tomlConf.API,
		Flows:     make([]playground.Flow, 0, len(tomlConf.Flow)),
		Bridge:    tomlConf.Bridge,
	}

	if tomlConf.LogLevel != "" {
		level, err := log.ParseLevel(tomlConf.LogLevel)
		if err != nil {
			return config{}, NewConfigError("Error parsing log_level", err)
		}
		conf.LogLevel = level
	}

	if _, err := window.OriginOf(conf.Publisher); err != nil {
		return config{}, NewConfigError("Error parsing publisher", err)
	}
	if conf.API.Address == "" {
		conf.API.Address = "localhost:8080"
	}

	var err error
	conf.Store.Backend = storeBackend(tomlConf.Store.Backend)
	switch conf.Store.Backend {
	case "":
		conf.Store.Backend = backendMemory
	case backendMemory:
	case backendBadger:
		if tomlConf.Store.Path == "" {
			return config{}, NewConfigError("badger store requires a path", nil)
		}
	case backendRedis:
		if tomlConf.Store.RedisAddress == "" {
			return config{}, NewConfigError("redis store requires a redis_address", nil)
		}
	default:
		return config{}, NewConfigError(fmt.Sprintf("Unknown store backend %q", tomlConf.Store.Backend), nil)
	}
	conf.Store.Path = tomlConf.Store.Path
	conf.Store.RedisAddress = tomlConf.Store.RedisAddress
	if conf.Store.TTL, err = parseDuration("store ttl", tomlConf.Store.TTL, 10*time.Minute); err != nil {
		return config{}, err
	}
	if conf.Store.SweepInterval, err = parseDuration("store sweep_interval", tomlConf.Store.SweepInterval, time.Minute); err != nil {
		return config{}, err
	}

	if conf.Ports.PollInterval, err = parseDuration("ports poll_interval", tomlConf.Ports.PollInterval, 500*time.Millisecond); err != nil {
		return config{}, err
	}
	if conf.Ports.CloseGrace, err = parseDuration("ports close_grace", tomlConf.Ports.CloseGrace, time.Second); err != nil {
		return config{}, err
	}
	if conf.Ports.ConnectTimeout, err = parseDuration("ports connect_timeout", tomlConf.Ports.ConnectTimeout, playground.DefaultConnectTimeout); err != nil {
		return config{}, err
	}

	for _, tomlFlow := range tomlConf.Flow {
		flow, err := tomlFlow.validate()
		if err != nil {
			return config{}, err
		}
		conf.Flows = append(conf.Flows, flow)
	}

	for _, origin := range conf.Bridge.Origins {
		if _, err := window.OriginOf(origin); err != nil {
			return config{}, NewConfigError("Error parsing bridge origin", err)
		}
	}

	return conf, nil
}

func (tomlFlow tomlFlowConfig) validate() (playground.Flow, error) {
	origin, err := window.OriginOf(tomlFlow.Origin)
	if err != nil {
		return playground.Flow{}, NewConfigError("Error parsing flow origin", err)
	}

	flow := playground.Flow{
		Origin:  origin,
		Outcome: activity.ResultCode(tomlFlow.Outcome),
		Reason:  tomlFlow.Reason,
		Height:  tomlFlow.Height,
	}
	if flow.Outcome == "" {
		flow.Outcome = activity.ResultOK
	}
	if !flow.Outcome.Valid() {
		return playground.Flow{}, NewConfigError("Error parsing flow outcome", activity.NewInvalidCodeError(flow.Outcome))
	}

	if tomlFlow.Data != "" {
		if !json.Valid([]byte(tomlFlow.Data)) {
			return playground.Flow{}, NewConfigError(fmt.Sprintf("Data of flow %v is not JSON", origin), nil)
		}
		flow.Data = json.RawMessage(tomlFlow.Data)
	}

	if flow.Delay, err = parseDuration("flow delay", tomlFlow.Delay, 0); err != nil {
		return playground.Flow{}, err
	}
	return flow, nil
}
