package executor

import (
	"context"
	"math"
	"time"

	"github.com/simon020286/biopipe/config"
)

// maxStatusErrors is how many consecutive failed status queries a wait
// tolerates before failing hard. Any successful poll resets the count.
const maxStatusErrors = 4

// statusRetryDelay separates retries after a transient status failure.
const statusRetryDelay = 100 * time.Millisecond

// PollSettings controls the sleep between status polls. All fields are
// milliseconds.
type PollSettings struct {
	MinSleep      int64
	MaxSleep      int64
	BackoffPeriod int64
}

// PollSettingsFrom extracts poll settings from a run configuration.
func PollSettingsFrom(cfg *config.Config) PollSettings {
	s := PollSettings{
		MinSleep:      cfg.MinPollInterval,
		MaxSleep:      cfg.MaxPollInterval,
		BackoffPeriod: cfg.BackoffPeriod,
	}
	if s.MinSleep <= 0 {
		s.MinSleep = 2000
	}
	if s.MaxSleep <= 0 {
		s.MaxSleep = 5000
	}
	if s.BackoffPeriod <= 0 {
		s.BackoffPeriod = 180000
	}
	return s
}

// NextSleep returns the pause before the next poll, growing exponentially
// with the time elapsed since waiting began. The result always lies in
// [MinSleep, MinSleep+MaxSleep].
func (s PollSettings) NextSleep(elapsed time.Duration) time.Duration {
	factor := math.Log(float64(s.MaxSleep-s.MinSleep)) / float64(s.BackoffPeriod)
	grown := math.Exp(factor * float64(elapsed.Milliseconds()))
	if grown > float64(s.MaxSleep) {
		grown = float64(s.MaxSleep)
	}
	return time.Duration(s.MinSleep+int64(grown)) * time.Millisecond
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
