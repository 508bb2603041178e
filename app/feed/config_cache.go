package feed

import (
	"cmp"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRefreshInterval = 3600 // seconds
	DefaultMaxItems        = 10

	maxRefreshInterval = math.MaxInt64 / int64(time.Second)
)

// ConfigCache holds the static task definitions found in a tasks directory.
type ConfigCache struct {
	tasksDir string
	cache    map[string]*Config
	mu       sync.RWMutex
}

func NewConfigCache(tasksDir string) *ConfigCache {
	return &ConfigCache{
		tasksDir: tasksDir,
		cache:    make(map[string]*Config),
	}
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.Settings.RefreshInterval) * time.Second
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.tasksDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.tasksDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		taskName := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := cc.LoadConfig(taskName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Task configuration loaded", "task", taskName, "enabled", config.Settings.Enabled, "refresh_interval", config.Settings.RefreshInterval)
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(taskName string) (*Config, error) {
	configFile := cc.getConfigFilePath(taskName)
	taskConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	taskConfig.Name = taskName
	taskConfig.Label = cmp.Or(taskConfig.Label, taskName)

	if err := cc.validateConfig(taskConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[taskConfig.Name] = taskConfig

	return taskConfig, nil
}

func (cc *ConfigCache) GetConfig(taskName string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	taskConfig, ok := cc.cache[taskName]
	if !ok {
		return nil, fmt.Errorf("task config with name '%s' not found", taskName)
	}
	return taskConfig, nil
}

// GetEnabledConfigs returns enabled configurations sorted by name.
func (cc *ConfigCache) GetEnabledConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabled := make([]*Config, 0, len(cc.cache))
	for _, v := range cc.cache {
		if v.Settings.Enabled {
			enabled = append(enabled, v)
		}
	}
	sort.Slice(enabled, func(i, j int) bool {
		return enabled[i].Name < enabled[j].Name
	})
	return enabled
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var taskConfig Config
	if err := yaml.Unmarshal(data, &taskConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if taskConfig.Settings.RefreshInterval == 0 {
		taskConfig.Settings.RefreshInterval = DefaultRefreshInterval
	}
	if taskConfig.Settings.MaxItems == 0 {
		taskConfig.Settings.MaxItems = DefaultMaxItems
	}

	return &taskConfig, nil
}

func (cc *ConfigCache) validateConfig(taskConfig *Config) error {
	if taskConfig == nil {
		return fmt.Errorf("taskConfig is nil")
	}

	if taskConfig.URL == "" {
		return fmt.Errorf("task URL is required")
	}

	positiveFields := map[string]int{
		"refresh interval": taskConfig.Settings.RefreshInterval,
		"max items":        taskConfig.Settings.MaxItems,
	}

	for fieldName, fieldValue := range positiveFields {
		if fieldValue <= 0 {
			return fmt.Errorf("%s must be positive", fieldName)
		}
	}

	if int64(taskConfig.Settings.RefreshInterval) > maxRefreshInterval {
		return fmt.Errorf("refresh interval of %d seconds is too large", taskConfig.Settings.RefreshInterval)
	}

	return nil
}

func (cc *ConfigCache) getConfigFilePath(taskName string) string {
	return filepath.Join(cc.tasksDir, taskName+".yml")
}
