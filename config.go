package hip

// Config configures a single Enable/Disable session. Every field is
// required; there are no implicit defaults.
type Config struct {
	// MaxStackDepth caps the number of frames captured per event.
	MaxStackDepth int

	// MaxTrackers caps the number of local trackers ever allocated.
	// Threads (goroutines) past this cap are not recorded.
	MaxTrackers int

	// TrackerEventBufferSize is the event count above which a local
	// tracker flushes its buffer to disk.
	TrackerEventBufferSize int

	// SampleRate is the Bernoulli acceptance probability, in [0, 1],
	// for Alloc events. Dealloc events are always recorded regardless
	// of SampleRate, so that addr-to-row bookkeeping in offline
	// ingestion stays consistent.
	SampleRate float64

	// ProfileDir is the parent directory under which
	// hip-<unix_seconds>/ is created.
	ProfileDir string
}

func (c Config) validate() error {
	switch {
	case c.MaxStackDepth <= 0:
		return errConfig("MaxStackDepth must be positive")
	case c.MaxTrackers <= 0:
		return errConfig("MaxTrackers must be positive")
	case c.TrackerEventBufferSize <= 0:
		return errConfig("TrackerEventBufferSize must be positive")
	case c.SampleRate < 0 || c.SampleRate > 1:
		return errConfig("SampleRate must be in [0, 1]")
	case c.ProfileDir == "":
		return errConfig("ProfileDir must be set")
	}
	return nil
}
