package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/cortexproxy/cortex-proxy/internal/app"
)

// envPrefix is stripped from environment variables during config loading (e.g., CORTEX_PROXY_SNOWFLAKE__PAT → snowflake.pat)
const envPrefix = "CORTEX_PROXY_"

// configPathEnvVar names the config file override, checked after the
// --config flag and before the default search locations.
const configPathEnvVar = "CORTEX_PROXY_CONFIG"

// resolveConfigPath picks the single config file to load, trying each
// candidate location in order and taking the first that exists:
// --config flag → CORTEX_PROXY_CONFIG env → per-OS config dir →
// $HOME/.config/cortex-proxy/config.toml → ./cortex-proxy.toml. Returns ""
// when none of them exist, which is not itself an error: every field has a
// default and/or can be supplied via environment variables or flags.
func resolveConfigPath(flagValue string, environFunc func() []string) string {
	if flagValue != "" {
		return flagValue
	}

	env := map[string]string{}
	for _, kv := range environFunc() {
		if name, value, ok := strings.Cut(kv, "="); ok {
			env[name] = value
		}
	}
	if path, ok := env[configPathEnvVar]; ok && path != "" {
		return path
	}

	var candidates []string
	if configDir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(configDir, "cortex-proxy", "config.toml"))
	}
	if home, ok := env["HOME"]; ok && home != "" {
		candidates = append(candidates, filepath.Join(home, ".config", "cortex-proxy", "config.toml"))
	}
	candidates = append(candidates, "cortex-proxy.toml")

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// loadConfig loads application configuration from various sources with precedence:
// config file → environment variables → CLI flags → defaults
func loadConfig(configFlag string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	// 1. Load from config file, if one resolves
	if configPath := resolveConfigPath(configFlag, environFunc); configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// 2. Load from environment variables
	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			stripped := strings.TrimPrefix(key, envPrefix)
			nested := strings.ToLower(strings.ReplaceAll(stripped, "__", "."))
			return nested, value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	// 3. Load from CLI flags if provided
	if cmd != nil {
		flagValues := extractAndTransformFlags(cmd)
		if err := k.Load(confmap.Provider(flagValues, "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// extractAndTransformFlags transforms CLI flag names to match config structure.
// Includes parent flags. Examples: --snowflake--pat → snowflake.pat, --config → config
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)

	// FlagNames() includes flags from parent commands (via lineage)
	for _, name := range cmd.FlagNames() {
		// Skip unset flags to preserve precedence from earlier config sources
		if !cmd.IsSet(name) {
			continue
		}

		if value := cmd.Value(name); value != nil {
			key := strings.ReplaceAll(name, "--", ".")
			key = strings.ReplaceAll(key, "-", "_")
			values[key] = value
		}
	}

	return values
}
