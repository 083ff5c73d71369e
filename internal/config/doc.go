// Package config provides configuration management for the Nitro backend.
//
// # Overview
//
// The config package uses Viper to load configuration from YAML files and
// environment variables. It provides a type-safe configuration structure with
// validation, default values, and automatic file creation.
//
// # Configuration File
//
// The configuration is stored at ~/.nitro/config.yaml and is automatically
// created with defaults on first use. The file structure mirrors the Go
// structs defined in this package.
//
// # Environment Variables
//
// All configuration values can be overridden using environment variables
// with the NITRO_ prefix. Nested fields are separated by underscores.
// A .env file in the working directory is loaded first.
//
// Examples:
//   - NITRO_SERVER_PORT=9000
//   - NITRO_STORAGE_BACKEND=sqlite
//   - NITRO_DEPLOYMENT_MODE=managed
//   - NITRO_LOGGING_LEVEL=debug
//
// The names used by older deployments are accepted as well: PORT,
// OLLAMA_BASE_URL, OLLAMA_MODEL, GEMINI_API_KEY, NITRO_API_KEY,
// ALLOWED_ORIGINS (comma separated), LOG_LEVEL, MEMORY_DIR, DEBUG_MODE and
// DEPLOYMENT_MODE.
//
// # Usage Example
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Addr())
package config
