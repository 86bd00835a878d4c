// Copyright © 2026 Turbo Sheet contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: config/defaults.go
// Summary: Default values for system and app configuration files.

package config

func applySystemDefaults(cfg Config) {
	if cfg == nil {
		return
	}
	cfg.RegisterDefaults("", Section{
		"defaultSheet": "demo",
	})
	cfg.RegisterDefaults("server", Section{
		"socket":    "/tmp/turbosheet.sock",
		"demo_rows": 1000000000,
		"demo_cols": 1000000000,
	})
	cfg.RegisterDefaults("viewer", Section{
		"rows_per_page": 100,
		"window_width":  8,
	})
	cfg.RegisterDefaults("viewstate", Section{
		"enabled":        true,
		"db_path":        "",
		"flush_interval": "2s",
	})
}

func applyAppDefaults(app string, cfg Config) {
	if cfg == nil {
		return
	}
	switch app {
	case "sheet-stress":
		cfg.RegisterDefaults("stress", Section{
			"events":        500,
			"viewport_rows": 40,
			"seed":          0,
		})
	}
}
