package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for governor.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the governor binary itself, which Viper's built-in
// SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("governor")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: GOVERNOR_TRUST_PERSISTINTERVALSECONDS
	viper.SetEnvPrefix("GOVERNOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a governor config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the governor binary (no extension) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".governor"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "governor"))
		}
	} else {
		paths = append(paths, "/etc/governor")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for governor.yaml or
// .yml. Returns the full path of the first match, or empty string if none
// found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "governor"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the config keys an operator is most likely to
// override without a file: the master switch, fail mode, workspace path,
// and the trust/audit toggles. Nested slices (policies, time windows) are
// file-only.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("enabled")
	_ = viper.BindEnv("timezone")
	_ = viper.BindEnv("failMode")
	_ = viper.BindEnv("workspace")

	_ = viper.BindEnv("trust.enabled")
	_ = viper.BindEnv("trust.persistIntervalSeconds")
	_ = viper.BindEnv("trust.maxHistoryPerAgent")

	_ = viper.BindEnv("audit.enabled")
	_ = viper.BindEnv("audit.level")
	_ = viper.BindEnv("audit.retentionDays")
	_ = viper.BindEnv("audit.verifyOnStartup")

	_ = viper.BindEnv("performance.maxEvalUs")
	_ = viper.BindEnv("performance.maxContextMessages")
	_ = viper.BindEnv("performance.frequencyBufferSize")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the parsed GovernorConfig. Call InitViper
// first.
func LoadConfig() (*GovernorConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars and defaults only.
	}

	var cfg GovernorConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults but does
// not validate, for callers (such as `governor validate`) that want to
// report validation errors themselves rather than fail the load outright.
func LoadConfigRaw() (*GovernorConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg GovernorConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or empty string if none was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
