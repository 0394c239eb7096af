package config

import (
	"context"

	"github.com/davidbalbert/eigrpd/sync"
)

type ConfigManager struct {
	*sync.Notifier[*Config]
}

func NewConfigManager(path string) (*ConfigManager, error) {
	conf, err := loadConfig(path)
	if err != nil {
		return nil, err
	}

	return &ConfigManager{sync.NewNotifier(conf)}, nil
}

func NewConfigManagerFromConfig(conf *Config) *ConfigManager {
	return &ConfigManager{sync.NewNotifier(conf)}
}

func (c *ConfigManager) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (c *ConfigManager) UpdateConfig(conf *Config) error {
	err := conf.validate()
	if err != nil {
		return err
	}

	c.NotifyChange(conf.copy())

	return nil
}

// Reload rereads path and publishes the result.
func (c *ConfigManager) Reload(path string) error {
	conf, err := loadConfig(path)
	if err != nil {
		return err
	}

	return c.UpdateConfig(conf)
}
