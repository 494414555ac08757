// Package config provides loading and environment overlay for brrr's
// runtime configuration: which store and queue backends to run against,
// spawn-limit and CAS-retry bounds, and logging.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/brrr.json"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
