package listen

import "time"

// Config carries the tuning for one listening session's pipeline.
type Config struct {
	Threshold       int           // detector speech floor in the 0-255 meter range
	SilenceDuration time.Duration // sustained silence before a boundary
	Grace           time.Duration // delay between detection and hand-off
	DataInterval    time.Duration // capture chunk cadence
	MeterInterval   time.Duration // loudness sampling cadence
	MinUtterance    time.Duration // decoded segments shorter than this are dropped
	FloorRMS        float64       // normalized RMS below which segments are dropped
	TargetRate      int           // engine input sample rate
}

// DefaultConfig returns the documented pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:       20,
		SilenceDuration: 1500 * time.Millisecond,
		Grace:           100 * time.Millisecond,
		DataInterval:    100 * time.Millisecond,
		MeterInterval:   30 * time.Millisecond,
		MinUtterance:    500 * time.Millisecond,
		FloorRMS:        0.005,
		TargetRate:      16000,
	}
}

// Sample is one loudness reading in the 0-255 range.
type Sample struct {
	Level int
	At    time.Time
}

// Segment is one finalized piece of the transcript.
type Segment struct {
	Seq        int
	Text       string
	Confidence float32
	Language   string
	Samples    int
	Duration   time.Duration
}

// errors
var (
	ErrProcessingInFlight = &ListenError{"transcription already in flight"}
	ErrAlreadyStarted     = &ListenError{"session already started"}
)

// ListenError is a simple error type for pipeline operations.
type ListenError struct {
	msg string
}

func (e *ListenError) Error() string { return e.msg }
