// Package config provides configuration loading for TVBridge Core.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by TVBRIDGE_* environment variables. Validation
// happens once at load time; a malformed device entry is a startup error
// rather than a runtime surprise.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
