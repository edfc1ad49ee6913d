package resource

import "strings"

// Kind tags a pool. Teardown walks kinds in declaration order.
type Kind int

const (
	General Kind = iota
	RenderTarget
	Texture
	Object
	Video
	ShaderProgram
	Shader
	Font

	kindCount
)

var kindNames = [...]string{
	General:       "general",
	RenderTarget:  "render_target",
	Texture:       "texture",
	Object:        "object",
	Video:         "video",
	ShaderProgram: "shader_program",
	Shader:        "shader",
	Font:          "font",
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

func (k Kind) Valid() bool { return k >= 0 && k < kindCount }

// Kinds returns every kind in teardown order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind maps a name (as returned by String) back to a Kind.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == s {
			return Kind(k), true
		}
	}
	return 0, false
}
