package types

import (
	"maps"
	"strings"
)

// Option keys recognized in ServerConfig.Options.
const (
	OptionConfigFile    = "configFile"
	OptionAppWorkingDir = "appWorkingDir"
)

// ServerConfig is the configuration surface of one app slot.
type ServerConfig struct {
	Name string `json:"name" mapstructure:"name"`
	// Command is the program the process backend launches.
	// Relative paths are resolved against the app working directory.
	Command string   `json:"command" mapstructure:"command"`
	Args    []string `json:"args,omitempty" mapstructure:"args"`
	Env     []string `json:"env,omitempty" mapstructure:"env"`
	// Options holds free-form key/value settings (configFile, appWorkingDir, ...).
	Options map[string]string `json:"options,omitempty" mapstructure:"options"`

	RecycleTriggers []TriggerConfig `json:"recycle_triggers,omitempty" mapstructure:"recycle_triggers"`

	// AutoStart lets the host start the slot on boot and bring it back after it falls idle.
	// Nil means true.
	AutoStart *bool `json:"auto_start,omitempty" mapstructure:"auto_start"`
}

// TriggerConfig selects and parameterizes one recycle trigger.
type TriggerConfig struct {
	Type    string            `json:"type" mapstructure:"type"`
	Options map[string]string `json:"options,omitempty" mapstructure:"options"`
}

// Option returns the option value for key, or "" if unset.
func (c *ServerConfig) Option(key string) string {
	if c == nil {
		return ""
	}
	return LookupOption(c.Options, key)
}

// LookupOption returns the value of key in opts. Keys match case-insensitively
// when there is no exact match, since viper lowercases map keys.
func LookupOption(opts map[string]string, key string) string {
	if v, ok := opts[key]; ok {
		return v
	}
	for k, v := range opts {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// ShouldAutoStart reports the effective AutoStart setting.
func (c *ServerConfig) ShouldAutoStart() bool {
	return c.AutoStart == nil || *c.AutoStart
}

// Clone returns a copy that shares nothing mutable with c.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Args = append([]string(nil), c.Args...)
	out.Env = append([]string(nil), c.Env...)
	out.Options = maps.Clone(c.Options)
	if c.RecycleTriggers != nil {
		out.RecycleTriggers = make([]TriggerConfig, len(c.RecycleTriggers))
		for i, t := range c.RecycleTriggers {
			out.RecycleTriggers[i] = TriggerConfig{Type: t.Type, Options: maps.Clone(t.Options)}
		}
	}
	if c.AutoStart != nil {
		v := *c.AutoStart
		out.AutoStart = &v
	}
	return &out
}

// AppIdentity is the resolved identity of an app slot, fixed once Setup completes.
type AppIdentity struct {
	Name       string `json:"name"`
	WorkingDir string `json:"working_dir"`
	// ConfigFile is the startup configuration file the hosted app reads. Empty if none.
	ConfigFile string `json:"config_file,omitempty"`
}
