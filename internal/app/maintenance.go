package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"demoplay/internal/metrics"
	"demoplay/internal/resource"
	logx "demoplay/pkg/logx"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func observeCache(kind resource.Kind, entries int) {
	metrics.CacheEntries.WithLabelValues(kind.String()).Set(float64(entries))
}

// startMaintenance schedules the housekeeping jobs configured under
// "maintenance". Nothing is scheduled when the section is absent.
func (a *App) startMaintenance() error {
	m := a.cfg.Maintenance
	if m == nil {
		return nil
	}
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.Local))
	jobs := 0

	if spec := strings.TrimSpace(m.CacheReport); spec != "" {
		if _, err := c.AddFunc(spec, a.reportCache); err != nil {
			return fmt.Errorf("maintenance.cache_report: %w", err)
		}
		jobs++
	}
	if spec := strings.TrimSpace(m.PruneLoads); spec != "" && a.store != nil {
		keep := m.Keep()
		if _, err := c.AddFunc(spec, func() { a.pruneLoads(keep) }); err != nil {
			return fmt.Errorf("maintenance.prune_loads: %w", err)
		}
		jobs++
	}
	if jobs == 0 {
		return nil
	}

	a.cron = c
	c.Start()
	a.log.Info("maintenance scheduled", logx.Int("jobs", jobs))
	return nil
}

// reportCache logs the cache population per kind.
func (a *App) reportCache() {
	stats := a.cache.Stats()
	fields := make([]logx.Field, 0, len(stats))
	total := 0
	for _, s := range stats {
		metrics.CacheEntries.WithLabelValues(s.Kind).Set(float64(s.Entries))
		fields = append(fields, logx.Int(s.Kind, s.Entries))
		total += s.Entries
	}
	fields = append(fields, logx.Int("total", total))
	a.log.Info("cache report", fields...)
}

func (a *App) pruneLoads(keep int) {
	ctx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	defer cancel()
	n, err := a.store.Prune(ctx, keep)
	if err != nil {
		a.log.Warn("load journal prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		a.log.Info("load journal pruned", logx.Int("removed", n), logx.Int("kept", keep))
	}
}
