package supervisor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/projecteru2/core/log"

	"github.com/projecteru2/appslot/config"
	"github.com/projecteru2/appslot/types"
	"github.com/projecteru2/appslot/utils"
)

// Setup resolves the slot identity and prepares its working directory.
// It runs once, from NotInitialized, and leaves the slot NotStarted.
func (s *Supervisor) Setup(ctx context.Context, bootstrap Bootstrap, cfg *types.ServerConfig) error {
	logger := log.WithFunc("supervisor.Setup")
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if cfg == nil || cfg.Name == "" {
		return ErrInvalidConfig
	}
	cfg = cfg.Clone()
	workDir := cfg.Option(types.OptionAppWorkingDir)
	if workDir == "" && bootstrap == nil {
		return fmt.Errorf("%w: no %s and no bootstrap", ErrInvalidConfig, types.OptionAppWorkingDir)
	}

	s.mu.Lock()
	if s.state != types.StateNotInitialized {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("app %s: %w (state %s)", cfg.Name, ErrAlreadySetup, state)
	}
	s.identity = types.AppIdentity{Name: cfg.Name}
	s.idle = nil
	s.setState(types.StateInitializing)
	s.mu.Unlock()

	if workDir == "" {
		workDir = config.AppWorkingDir(bootstrap.BaseDir(), cfg.Name)
	}
	if err := utils.EnsureDirs(workDir); err != nil {
		s.mu.Lock()
		s.setState(types.StateNotInitialized)
		s.mu.Unlock()
		return fmt.Errorf("setup app %s: %w", cfg.Name, err)
	}

	configFile := s.opts.StartupConfigFile
	if override := ResolveAppConfigFile(workDir, cfg.Option(types.OptionConfigFile)); override != "" {
		configFile = override
	}

	s.mu.Lock()
	s.config = cfg
	s.identity = types.AppIdentity{Name: cfg.Name, WorkingDir: workDir, ConfigFile: configFile}
	s.setState(types.StateNotStarted)
	s.mu.Unlock()

	logger.Infof(ctx, "app %s set up in %s (config %q)", cfg.Name, workDir, configFile)
	return nil
}

// ResolveAppConfigFile returns the config file override for an app working directory.
// An absolute option is used as is. A relative option, or the default
// App.config when the option is empty, is looked up under workDir and
// returned only if it exists. "" means no override.
func ResolveAppConfigFile(workDir, option string) string {
	if option != "" && filepath.IsAbs(option) {
		return option
	}
	name := option
	if name == "" {
		name = config.DefaultAppConfigFile
	}
	path := filepath.Join(workDir, name)
	if !utils.FileExists(path) {
		return ""
	}
	return path
}
