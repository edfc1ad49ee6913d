// Package logx is demoplay's structured logging, a thin value-type wrapper
// over zerolog.
//
// A Service writes to any mix of a console writer, a JSON file and the
// on-screen overlay. The overlay sink only forwards records at or above its
// minimum level, is rate limited and never blocks the render thread.
package logx
