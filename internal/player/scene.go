package player

import (
	"math"

	"demoplay/internal/effect"
)

// Scene binds an effect (or child scenes) to a [Start, End) window on the
// global clock.
type Scene struct {
	Name       string
	Start      float64
	End        float64
	EffectName string

	// Effect is nil when the scene has no effect or the named effect was
	// not registered (MissingEffect).
	Effect        *effect.Effect
	MissingEffect bool

	Parent   *Scene
	children []*Scene

	// Timing is refreshed every frame the scene is active.
	Timing effect.Timing
}

func (s *Scene) Children() []*Scene { return append([]*Scene(nil), s.children...) }

// Active reports whether t falls inside [Start, End).
func (s *Scene) Active(t float64) bool { return t >= s.Start && t < s.End }

func (s *Scene) updateTiming(t float64) {
	span := s.End - s.Start
	pct := 0.0
	if span > 0 && !math.IsInf(span, 1) {
		pct = (t - s.Start) / span
	}
	s.Timing = effect.Timing{
		Percent:   pct,
		Absolute:  t,
		FromStart: t - s.Start,
		Start:     s.Start,
		End:       s.End,
	}
}

// SceneInfo is the JSON view of a scene.
type SceneInfo struct {
	Name     string      `json:"name"`
	Effect   string      `json:"effect,omitempty"`
	Start    float64     `json:"start"`
	End      float64     `json:"end"`
	Missing  bool        `json:"missing_effect,omitempty"`
	Children []SceneInfo `json:"children,omitempty"`
}

func (s *Scene) Info() SceneInfo {
	end := s.End
	if math.IsInf(end, 1) {
		end = -1
	}
	info := SceneInfo{Name: s.Name, Effect: s.EffectName, Start: s.Start, End: end, Missing: s.MissingEffect}
	for _, c := range s.children {
		info.Children = append(info.Children, c.Info())
	}
	return info
}
