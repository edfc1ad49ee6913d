package control

import (
	"context"

	"demoplay/internal/clock"
	"demoplay/internal/effect"
	"demoplay/internal/player"
	"demoplay/internal/resource"
	"demoplay/internal/runtime/supervisor"
	"demoplay/internal/storage"
	"demoplay/internal/worker"
)

// Status is the engine snapshot served by GET /status.
type Status struct {
	Clock        clock.Snapshot        `json:"clock"`
	Loading      bool                  `json:"loading"`
	Progress     float64               `json:"progress"`
	Editor       bool                  `json:"editor"`
	ActiveScenes []string              `json:"active_scenes"`
	Scenes       []player.SceneInfo    `json:"scenes,omitempty"`
	Effects      []effect.Stats        `json:"effects"`
	Cache        []resource.KindStats  `json:"cache"`
	Workers      worker.Stats          `json:"workers"`
	Counters     []clock.CounterSample `json:"counters,omitempty"`
	Background   supervisor.Snapshot   `json:"background"`
}

// Controller is the engine surface the server drives. Implementations run
// mutations on the render thread and block until they are applied or ctx
// ends.
type Controller interface {
	Status(ctx context.Context) (Status, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// TogglePause returns the new paused state.
	TogglePause(ctx context.Context) (bool, error)
	Seek(ctx context.Context, seconds float64) error
	Skip(ctx context.Context, delta float64) error
	RequestRefresh(full bool)
	RecentLoads(ctx context.Context, limit int) ([]storage.LoadRecord, error)
}
