package config

import (
	"reflect"
	"sort"
	"strings"

	logx "demoplay/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the sections whose changes only
// take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)
	restart := make([]string, 0, 2)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.overlay_enabled", newCfg.Logging.Overlay.Enabled),
		)
	}

	// Player. Threads and script are picked up by the next refresh.
	op, np := oldCfg.Player, newCfg.Player
	if op.ScriptPath() != np.ScriptPath() ||
		op.Editor != np.Editor ||
		op.Threads != np.Threads ||
		op.FPS() != np.FPS() ||
		strings.TrimSpace(op.Seek) != strings.TrimSpace(np.Seek) ||
		strings.TrimSpace(op.PauseIdle) != strings.TrimSpace(np.PauseIdle) ||
		op.Loop != np.Loop {
		changed = append(changed, "player")
		attrs = append(attrs,
			logx.String("player.script", np.ScriptPath()),
			logx.Bool("player.editor", np.Editor),
			logx.Int("player.threads", np.Threads),
			logx.Float64("player.target_fps", np.FPS()),
			logx.Bool("player.loop", np.Loop),
		)
	}

	// Storage. Nil means disabled.
	var oDriver, nDriver, oPath, nPath, oBusy, nBusy string
	if s := oldCfg.Storage; s != nil {
		oDriver, oPath, oBusy = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path), strings.TrimSpace(s.BusyTimeout)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nPath, nBusy = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path), strings.TrimSpace(s.BusyTimeout)
	}
	if oDriver != nDriver || oPath != nPath || oBusy != nBusy {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Control
	oc, nc := oldCfg.Control, newCfg.Control
	if oc.Enabled != nc.Enabled || oc.ListenAddr() != nc.ListenAddr() || !reflect.DeepEqual(oc.AllowedOrigins, nc.AllowedOrigins) {
		changed = append(changed, "control")
		restart = append(restart, "control")
		attrs = append(attrs,
			logx.Bool("control.enabled", nc.Enabled),
			logx.String("control.addr", nc.ListenAddr()),
			logx.Int("control.origins", len(nc.AllowedOrigins)),
		)
	}

	// Maintenance
	om, nm := derefMaintenance(oldCfg.Maintenance), derefMaintenance(newCfg.Maintenance)
	if om != nm {
		changed = append(changed, "maintenance")
		restart = append(restart, "maintenance")
		attrs = append(attrs,
			logx.String("maintenance.cache_report", nm.CacheReport),
			logx.String("maintenance.prune_loads", nm.PruneLoads),
			logx.Int("maintenance.keep_loads", newCfg.Maintenance.Keep()),
		)
	}

	// Pprof. Rates apply live; the listener needs a restart.
	op2, np2 := derefPprof(oldCfg.Pprof), derefPprof(newCfg.Pprof)
	if op2 != np2 {
		changed = append(changed, "pprof")
		if op2.Enabled != np2.Enabled || op2.Addr != np2.Addr || op2.Token != np2.Token {
			restart = append(restart, "pprof")
		}
		attrs = append(attrs,
			logx.Bool("pprof.enabled", np2.Enabled),
			logx.String("pprof.addr", np2.Addr),
			logx.Bool("pprof.token_set", np2.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs, restart
}

func derefMaintenance(m *MaintenanceConfig) MaintenanceConfig {
	if m == nil {
		return MaintenanceConfig{}
	}
	return MaintenanceConfig{
		CacheReport: strings.TrimSpace(m.CacheReport),
		PruneLoads:  strings.TrimSpace(m.PruneLoads),
		KeepLoads:   m.KeepLoads,
	}
}

func derefPprof(p *PprofConfig) PprofConfig {
	if p == nil {
		return PprofConfig{}
	}
	out := *p
	out.Addr = strings.TrimSpace(out.Addr)
	out.Token = strings.TrimSpace(out.Token)
	return out
}
