// Simulator pushes randomized inverter frames at a fixed interval,
// standing in for the board gateway during development.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type valueRange struct {
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Decimals int     `yaml:"decimals"`
}

type deviceProfile struct {
	SiteID   string                `yaml:"site_id"`
	Interval time.Duration         `yaml:"interval"`
	Metrics  map[string]valueRange `yaml:"metrics"`
}

type simulatorConfig struct {
	Server   string          `yaml:"server"`
	Profiles []deviceProfile `yaml:"profiles"`
}

func defaultProfile(siteID string) deviceProfile {
	return deviceProfile{
		SiteID:   siteID,
		Interval: 5 * time.Second,
		Metrics: map[string]valueRange{
			"grid_voltage":           {Min: 220, Max: 240, Decimals: 1},
			"grid_freq":              {Min: 49, Max: 51, Decimals: 1},
			"ac_out_voltage":         {Min: 220, Max: 240, Decimals: 1},
			"ac_out_freq":            {Min: 49, Max: 51, Decimals: 1},
			"ac_out_va":              {Min: 100, Max: 500, Decimals: 1},
			"ac_out_watt":            {Min: 80, Max: 300, Decimals: 1},
			"load_percent":           {Min: 5, Max: 25, Decimals: 1},
			"bus_voltage":            {Min: 330, Max: 400, Decimals: 1},
			"batt_voltage":           {Min: 47, Max: 52, Decimals: 1},
			"batt_charge_current":    {Min: 0, Max: 8, Decimals: 1},
			"batt_capacity_percent":  {Min: 60, Max: 100, Decimals: 0},
			"heatsink_temp":          {Min: 30, Max: 45, Decimals: 1},
			"pv_input_current":       {Min: 0, Max: 5, Decimals: 1},
			"pv_input_voltage":       {Min: 100, Max: 130, Decimals: 1},
			"batt_discharge_current": {Min: 0, Max: 6, Decimals: 1},
		},
	}
}

func loadConfig(path string) (simulatorConfig, error) {
	cfg := simulatorConfig{
		Server:   getenvDefault("EMS_SERVER_URL", "http://localhost:8080/api/v1/ems"),
		Profiles: []deviceProfile{defaultProfile(getenvDefault("EMS_SITE_ID", "site-001"))},
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var fileCfg simulatorConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if fileCfg.Server != "" {
		cfg.Server = fileCfg.Server
	}
	if len(fileCfg.Profiles) > 0 {
		cfg.Profiles = fileCfg.Profiles
	}
	for i := range cfg.Profiles {
		if cfg.Profiles[i].Interval <= 0 {
			cfg.Profiles[i].Interval = 5 * time.Second
		}
		if len(cfg.Profiles[i].Metrics) == 0 {
			cfg.Profiles[i].Metrics = defaultProfile(cfg.Profiles[i].SiteID).Metrics
		}
	}
	return cfg, nil
}

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := loadConfig(getenvDefault("SIMULATOR_CONFIG", ""))
	if err != nil {
		logger.Fatalf("simulator config error: %v", err)
	}

	logger.Printf("simulator started, server=%s profiles=%d", cfg.Server, len(cfg.Profiles))
	for _, profile := range cfg.Profiles {
		go runProfile(cfg.Server, profile, logger)
	}
	select {}
}

func runProfile(server string, profile deviceProfile, logger *log.Logger) {
	ticker := time.NewTicker(profile.Interval)
	defer ticker.Stop()

	send(server, profile, logger)
	for range ticker.C {
		send(server, profile, logger)
	}
}

func send(server string, profile deviceProfile, logger *log.Logger) {
	frame := buildFrame(profile)
	body, err := json.Marshal(frame)
	if err != nil {
		logger.Printf("simulator: marshal error: %v", err)
		return
	}

	resp, err := http.Post(server, "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Printf("simulator: send error site=%s: %v", profile.SiteID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Printf("simulator: server returned %d for site=%s", resp.StatusCode, profile.SiteID)
		return
	}
	logger.Printf("simulator: sent frame site=%s", profile.SiteID)
}

func buildFrame(profile deviceProfile) map[string]any {
	metrics := make(map[string]any, len(profile.Metrics)+1)
	for key, bounds := range profile.Metrics {
		metrics[key] = randValue(bounds)
	}
	metrics["device_status_bits"] = 16

	return map[string]any{
		"type":    "QPIGS",
		"ts_ms":   time.Now().UnixMilli(),
		"crc_ok":  true,
		"site_id": profile.SiteID,
		"metrics": metrics,
	}
}

func randValue(bounds valueRange) float64 {
	v := bounds.Min + rand.Float64()*(bounds.Max-bounds.Min)
	scale := 1.0
	for i := 0; i < bounds.Decimals; i++ {
		scale *= 10
	}
	return float64(int64(v*scale+0.5)) / scale
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
