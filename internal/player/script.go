package player

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"demoplay/internal/clock"
	"demoplay/internal/config"
	"demoplay/internal/effect"
	"demoplay/internal/platform"
	logx "demoplay/pkg/logx"
)

// DataDir is the fallback directory for effect references.
const DataDir = "data"

// Script describes a demo: its timing, the effects it uses and the scene
// graph. It is YAML or JSON, decoded strictly.
type Script struct {
	Music          string       `json:"music,omitempty"`
	TotalTime      string       `json:"totalTime,omitempty"`
	FPS            float64      `json:"fps,omitempty"`
	BeatsPerMinute float64      `json:"beatsPerMinute,omitempty"`
	Effects        []EffectSpec `json:"effects"`
	Scenes         []SceneSpec  `json:"scenes"`

	path string
}

type EffectSpec struct {
	Name string `json:"name"`

	// Reference is a source path (.js, .fs/.vs/.gs) or the catalog name of
	// a compiled-in effect. Empty means the catalog entry named Name.
	Reference string `json:"reference,omitempty"`
	Skip      bool   `json:"skip,omitempty"`
}

type SceneSpec struct {
	Name   string `json:"name"`
	Effect string `json:"effect,omitempty"`

	// StartTime is "M:SS[.mmm]". DurationTime is a duration, or an absolute
	// end time when prefixed with "#".
	StartTime    string      `json:"startTime,omitempty"`
	DurationTime string      `json:"durationTime,omitempty"`
	Skip         bool        `json:"skip,omitempty"`
	Scenes       []SceneSpec `json:"scenes,omitempty"`
}

func LoadScript(path string) (*Script, error) {
	var s Script
	if err := config.DecodeFile(path, &s); err != nil {
		return nil, fmt.Errorf("demo script %s: %w", path, err)
	}
	s.path = path
	return &s, nil
}

func (s *Script) Path() string { return s.path }

// Total is the demo length in seconds, or clock.Unspecified when open-ended.
func (s *Script) Total() (float64, error) {
	return clock.ParseTime(s.TotalTime)
}

// Resolve maps an effect reference to a path: absolute paths are kept,
// relative ones are tried next to the script, then under DataDir.
func (s *Script) Resolve(ref string) string {
	if ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	local := filepath.Join(filepath.Dir(s.path), ref)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	data := filepath.Join(DataDir, ref)
	if _, err := os.Stat(data); err == nil {
		return data
	}
	return local
}

// Apply registers the script's effects and scenes. Unknown catalog entries
// and invalid scenes are logged and skipped; their errors are returned
// joined once everything else has been applied.
func Apply(s *Script, reg *effect.Registry, sched *Scheduler, catalog effect.Catalog, rt platform.ScriptRuntime) error {
	log := sched.log
	var errs []error

	for _, es := range s.Effects {
		if es.Skip {
			log.Debug("effect skipped", logx.String("effect", es.Name))
			continue
		}
		if strings.TrimSpace(es.Name) == "" {
			errs = append(errs, errors.New("effect with empty name"))
			continue
		}
		switch effect.KindFor(es.Reference) {
		case effect.Scripted:
			p := s.Resolve(es.Reference)
			reg.Add(es.Name, p, effect.NewScript(rt, es.Name, p))
		case effect.Shader:
			reg.Add(es.Name, s.Resolve(es.Reference), nil)
		default:
			key := es.Reference
			if key == "" {
				key = es.Name
			}
			b, ok := catalog.Lookup(key)
			if !ok {
				log.Warn("native effect not compiled in", logx.String("effect", es.Name), logx.String("reference", key))
				errs = append(errs, fmt.Errorf("effect %s: %w", es.Name, effect.ErrNotFound))
				continue
			}
			reg.Add(es.Name, "", b)
		}
	}

	var addScenes func(parent *Scene, list []SceneSpec)
	addScenes = func(parent *Scene, list []SceneSpec) {
		for _, ss := range list {
			if ss.Skip {
				continue
			}
			sc, err := sched.AddScene(parent, ss.Name, ss.Effect, ss.StartTime, ss.DurationTime)
			if err != nil {
				log.Warn("scene rejected", logx.String("scene", ss.Name), logx.Err(err))
				errs = append(errs, err)
				continue
			}
			addScenes(sc, ss.Scenes)
		}
	}
	addScenes(nil, s.Scenes)

	return errors.Join(errs...)
}
