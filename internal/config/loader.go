package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/corebank/dualmount/internal/model"
)

// Load loads configuration from file and environment variables. The file is
// optional; environment variables take precedence over file values.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// The config file is optional; defaults plus environment variables are
	// enough to run.
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: could not read config file %s: %v. Using defaults and environment variables.\n", configPath, err)
	} else {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides. The
// variable names match what the deployment templates already export.
func applyEnvironmentOverrides(cfg *Config) {
	if nodeID := os.Getenv("NODE_ID"); nodeID != "" {
		cfg.Node.ID = nodeID
	}
	if account := os.Getenv("ACCOUNT_TYPE"); account != "" {
		cfg.Node.Account = account
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	// Mount overrides address the first target of each role.
	if localPath := os.Getenv("LOCAL_EFS_PATH"); localPath != "" {
		setRoleRoot(cfg, model.RoleLocal, localPath)
	}
	if sharedPath := os.Getenv("COREBANK_EFS_PATH"); sharedPath != "" {
		setRoleRoot(cfg, model.RoleShared, sharedPath)
	}

	if policy := os.Getenv("WRITE_POLICY"); policy != "" {
		cfg.Write.Policy = policy
	}
	if peerURL := os.Getenv("PEER_URL"); peerURL != "" {
		cfg.Validation.PeerURL = peerURL
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

func setRoleRoot(cfg *Config, role model.Role, rootPath string) {
	for i := range cfg.Targets {
		if model.Role(cfg.Targets[i].Role) == role {
			cfg.Targets[i].RootPath = rootPath
			return
		}
	}
}

// scenarioFile is the standalone scenario suite document.
type scenarioFile struct {
	Scenarios []model.Scenario `yaml:"scenarios"`
}

// LoadScenarios reads a scenario suite from a YAML file.
func LoadScenarios(path string) ([]model.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenarios file %s: %w", path, err)
	}

	var doc scenarioFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse scenarios file %s: %w", path, err)
	}
	if len(doc.Scenarios) == 0 {
		return nil, fmt.Errorf("scenarios file %s defines no scenarios", path)
	}
	return doc.Scenarios, nil
}

// ScenarioSuite resolves the scenario suite: a standalone file wins over
// inline config, and the built-in suite covers the rest.
func (c *Config) ScenarioSuite() ([]model.Scenario, error) {
	if c.Validation.ScenariosFile != "" {
		return LoadScenarios(c.Validation.ScenariosFile)
	}
	if len(c.Validation.Scenarios) > 0 {
		return c.Validation.Scenarios, nil
	}
	return DefaultScenarios(), nil
}
