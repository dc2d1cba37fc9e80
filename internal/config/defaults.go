package config

const (
	defaultThrottleLimit    = 5
	defaultThrottleMS       = 50
	defaultCleanupTimeoutMS = 5000
	defaultPipe             = "/tmp/barfeed.fifo"
	defaultRuntimeDir       = "~/.local/state/barfeed"
	defaultLogDir           = "~/.local/state/barfeed/logs"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultSeparator        = " | "
	defaultScriptInterval   = 5
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Settings: Settings{
			ThrottleLimit:    defaultThrottleLimit,
			ThrottleMS:       defaultThrottleMS,
			CleanupTimeoutMS: defaultCleanupTimeoutMS,
		},
		Paths: Paths{
			Pipe:       defaultPipe,
			RuntimeDir: defaultRuntimeDir,
			LogDir:     defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Bar: Bar{
			Separator: defaultSeparator,
		},
		Modules: map[string]Module{},
	}
}
