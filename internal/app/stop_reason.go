package app

// StopReason is logged on shutdown and reported to systemd.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopDemoEnd    StopReason = "demo_end"
	StopUserQuit   StopReason = "user_quit"
)
