// Package builtin holds the effects compiled into the player binary. They
// are small on purpose: a blank pass, a beat tracer and a synthetic asset
// preloader used to exercise the loading path headless.
package builtin

import (
	"context"
	"fmt"
	"math"

	"demoplay/internal/effect"
	"demoplay/internal/resource"
	logx "demoplay/pkg/logx"
)

// Catalog returns a fresh catalog with every built-in effect.
func Catalog() effect.Catalog {
	c := effect.Catalog{}
	c.Register("blank", effect.Shared(effect.Funcs{}))
	c.Register("beat", func() effect.Behavior { return &Beat{} })
	c.Register("preload", func() effect.Behavior { return &Preload{Count: 16, Size: 256 << 10} })
	return c
}

// Beat logs every whole beat it crosses.
type Beat struct {
	last float64
}

func (b *Beat) Init(*effect.Context) error {
	b.last = -1
	return nil
}

func (b *Beat) Run(ctx *effect.Context) error {
	beat := math.Floor(ctx.Clock.CurrentBeat())
	if beat != b.last {
		b.last = beat
		ctx.Log.Debug("beat", logx.String("scene", ctx.Scene), logx.Float64("beat", beat))
	}
	return nil
}

func (b *Beat) Deinit(*effect.Context) error { return nil }

// Preload creates Count synthetic textures of Size bytes on the worker pool
// and reports each one to the loading bar. The textures are cached per
// scene, so a partial refresh finds them already loaded.
type Preload struct {
	Count int
	Size  int
}

func (p *Preload) Init(ctx *effect.Context) error {
	if ctx.Loading != nil {
		ctx.Loading.SetResourceCount(p.Count)
	}
	for i := 0; i < p.Count; i++ {
		key := fmt.Sprintf("%s/preload/%d", ctx.Scene, i)
		ctx.Workers.Go("preload", func(context.Context) error {
			_, _, err := ctx.Cache.GetOrLoad(resource.Texture, key, func() (any, error) {
				return make([]byte, p.Size), nil
			})
			if ctx.Loading != nil {
				ctx.Loading.NotifyResourceLoaded()
			}
			return err
		})
	}
	return nil
}

func (p *Preload) Run(*effect.Context) error    { return nil }
func (p *Preload) Deinit(*effect.Context) error { return nil }
