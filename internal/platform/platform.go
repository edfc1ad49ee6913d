// Package platform declares the engine's external collaborators: window and
// renderer, audio, the scripting runtime, the on-screen overlay and the
// remote sync client. Only their boundary lives here; headless stand-ins
// are provided for the CLI and for tests.
package platform

// Renderer is the main window and its rendering context.
type Renderer interface {
	Clear()
	Flush()
	// ShouldClose reports a user quit request (window close, Esc).
	ShouldClose() bool
	DrawLoading(progress float64)
	SetTitle(title string)
}

// GraphicsState exposes the graphics API error flag. Errors drains pending
// errors; an empty result means the state is clean.
type GraphicsState interface {
	Errors() []string
}

// Audio is the music playback backend.
type Audio interface {
	SetPosition(seconds float64)
	Pause(paused bool)
}

// Overlay is the editor's on-screen title and log area.
type Overlay interface {
	SetTitle(title string)
	AppendLog(line string)
	ClearLog()
}

// ScriptRuntime is the embedded scripting language.
type ScriptRuntime interface {
	EvalFile(path string) error
	// CallMethod invokes class.method(instance), e.g. Effect.init("fade").
	CallMethod(class, method, instance string) error
	Collect()
}

// SyncClient polls an external timeline editor and drives the clock through
// the pause and seek hooks.
type SyncClient interface {
	Poll(c Controls) error
}

// Controls is the slice of the engine a sync client may drive.
type Controls interface {
	Now() float64
	Paused() bool
	Pause()
	Resume()
	SetTime(seconds float64)
}

// VideoFrameSource is implemented by video payloads in the resource cache;
// the render loop asks them to refresh their frame each frame.
type VideoFrameSource interface {
	RedrawFrame(now float64)
}

// Reloadable is implemented by shader program payloads that can rebuild
// themselves when their sources change.
type Reloadable interface {
	SourcesModified() bool
	Reload() error
}
