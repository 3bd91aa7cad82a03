package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dsuwu/go-dsuwu"
	"github.com/dsuwu/go-dsuwu/internal/logging"
)

// fileConfig is the YAML server configuration. Flags override anything
// set here.
type fileConfig struct {
	Port          uint16             `yaml:"port"`
	Bind          string             `yaml:"bind"`
	ServerID      string             `yaml:"server_id"`
	UpdateTimeout string             `yaml:"update_timeout"`
	StickDeadzone uint8              `yaml:"stick_deadzone"`
	Controllers   []controllerConfig `yaml:"controllers"`
}

type controllerConfig struct {
	Script string `yaml:"script"`
	MAC    string `yaml:"mac"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// buildParams merges the config file and command-line flags into server
// parameters. A producer spec that fails to load leaves its slot
// unassigned rather than aborting the whole server.
func buildParams(cmd *cobra.Command, opts *options, logger *logging.Logger) (dsuwu.Params, error) {
	var cfg fileConfig
	if opts.configFile != "" {
		loaded, err := loadConfig(opts.configFile)
		if err != nil {
			return dsuwu.Params{}, err
		}
		cfg = *loaded
	}

	params := dsuwu.Params{
		Port:          cfg.Port,
		BindAddr:      cfg.Bind,
		StickDeadzone: cfg.StickDeadzone,
	}
	if opts.port != 0 {
		params.Port = opts.port
	}
	if params.Port == 0 {
		params.Port = dsuwu.DefaultPort
	}
	if opts.bind != "" {
		params.BindAddr = opts.bind
	}

	serverID := cfg.ServerID
	if opts.serverID != "" {
		serverID = opts.serverID
	}
	if serverID != "" {
		id, err := parseServerID(serverID)
		if err != nil {
			return dsuwu.Params{}, err
		}
		params.ServerID = id
	}

	updateTimeout := cfg.UpdateTimeout
	if cmd.Flags().Changed("update-timeout") {
		updateTimeout = opts.updateTimeout
	}
	if updateTimeout != "" {
		d, err := parseUpdateTimeout(updateTimeout)
		if err != nil {
			return dsuwu.Params{}, err
		}
		params.UpdateTimeout = d
	}

	// controllers: config file first, then flag overrides per slot
	specs := make([]string, 0, maxControllerFlags)
	macs := make([]string, 0, maxControllerFlags)
	for _, c := range cfg.Controllers {
		specs = append(specs, c.Script)
		macs = append(macs, c.MAC)
	}
	for i, s := range opts.scripts {
		if s == "" {
			continue
		}
		for len(specs) <= i {
			specs = append(specs, "")
			macs = append(macs, "")
		}
		specs[i] = s
	}

	slots := make([]dsuwu.SlotSpec, len(specs))
	for i, spec := range specs {
		slot, err := buildSlotSpec(spec)
		if err != nil {
			logger.Error("failed to load producer, slot stays unassigned", "slot", i, "error", err)
			continue
		}
		slots[i] = slot
	}
	for i, mac := range macs {
		if mac != "" {
			slots[i].MAC = mac
		}
	}
	params.Slots = slots
	params.Logger = logger

	return params, nil
}

// parseServerID parses a hex server ID ensuring it fits in 32 bits.
func parseServerID(value string) (uint32, error) {
	v := strings.TrimPrefix(strings.ToLower(value), "0x")
	if v == "" {
		return 0, fmt.Errorf("server ID cannot be empty")
	}
	if len(v) > 8 {
		return 0, fmt.Errorf("server ID must be at most 8 hex digits")
	}
	id, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("server ID must be hexadecimal: %q", value)
	}
	return uint32(id), nil
}

// parseUpdateTimeout parses a timeout in seconds, allowing "none" (and
// 0) to disable the periodic tick.
func parseUpdateTimeout(value string) (time.Duration, error) {
	switch strings.ToLower(value) {
	case "none", "null":
		return -1, nil
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid update timeout: %q", value)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("update timeout must be non-negative")
	}
	if seconds == 0 {
		return -1, nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
