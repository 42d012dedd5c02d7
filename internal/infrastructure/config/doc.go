// Package config loads and validates Wattline Core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by WATTLINE_* environment variables. The loaded
// Config is immutable after Load returns; components take copies of the
// sections they need and are reinitialised, not mutated, when settings
// change.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Uploaders.PostgREST.Table)
package config
