// Package config holds the proxy's own settings: the workspace it serves,
// where volts are discovered, which volts are disabled, per-volt
// configuration tables, and logging and pool sizing.
//
// Settings live in one TOML file, by default
// ~/.config/voltproxy/config.toml:
//
//	[proxy]
//	workers = 8
//
//	[volts]
//	paths = ["/home/me/dev/volts"]
//	disabled = ["dshills.rust-tools"]
//
//	[volts.config.go-tools]
//	gofumpt = true
//
//	[logging]
//	level = "debug"
//	format = "json"
//
// Values absent from the file keep their defaults. Unknown keys are
// rejected so misspelled settings surface at startup instead of being
// silently ignored.
package config
