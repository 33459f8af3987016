package config

import (
	"sync/atomic"

	"github.com/saiset-co/sai-newscache/types"
)

type ConfigurationManager struct {
	config     atomic.Pointer[types.Config]
	configPath string
	loader     *Loader
}

func NewConfigurationManager(configPath string) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		configPath: configPath,
		loader:     NewLoader(),
	}

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewFromConfig wraps an already built config. Test helper.
func NewFromConfig(cfg *types.Config) *ConfigurationManager {
	cm := &ConfigurationManager{loader: NewLoader()}
	if cfg == nil {
		cfg = cm.loader.Defaults()
	}
	cm.config.Store(cfg)
	return cm
}

func (cm *ConfigurationManager) Load() error {
	config, err := cm.loader.LoadFromFile(cm.configPath)
	if err != nil {
		return err
	}

	cm.config.Store(config)
	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.Config {
	return cm.config.Load()
}
