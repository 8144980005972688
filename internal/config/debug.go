package config

import "os"

func LoadDebugConfigFromEnv(cfg DebugConfig) DebugConfig {
	if os.Getenv("GLANCE_DEBUG_LOG_REQUESTS") == "1" {
		cfg.LogRequests = true
	}
	if os.Getenv("GLANCE_DEBUG_LOG_RESPONSES") == "1" {
		cfg.LogResponses = true
	}
	if level := os.Getenv("GLANCE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	return cfg
}

// LoadProviderConfigFromEnv lets secrets and endpoint overrides come from the environment instead
// of the config file.
func LoadProviderConfigFromEnv(cfg ProviderConfig) ProviderConfig {
	if v := os.Getenv("GLANCE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("GLANCE_PROVIDER"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("GLANCE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("GLANCE_MODEL"); v != "" {
		cfg.Model = v
	}
	return cfg
}
