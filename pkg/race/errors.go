package race

import (
	"errors"
	"fmt"
	"strings"

	"equityfeed/pkg/market"
)

var (
	// ErrEmptyResponse is returned for provider answers without rows.
	ErrEmptyResponse = errors.New("empty response")
	// ErrRaceTimeout marks attempts still in flight when the fast pass ended.
	ErrRaceTimeout = errors.New("race deadline elapsed")
)

// Failure is one provider attempt that did not produce a valid payload.
type Failure struct {
	Provider string `json:"provider"`
	Pass     Pass   `json:"pass"`
	Err      error  `json:"-"`
}

func (f Failure) String() string {
	return fmt.Sprintf("%s (%s): %v", f.Provider, f.Pass, f.Err)
}

// RaceError reports that every provider failed in both passes.
type RaceError struct {
	Request  market.Request
	Failures []Failure
}

func (e *RaceError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("race: no providers for %s", e.Request.Kind)
	}
	return fmt.Sprintf("race: %s: all providers failed: %s", e.Request.Fingerprint(), strings.Join(e.Reasons(), "; "))
}

// Reasons renders each failure as "provider (pass): error".
func (e *RaceError) Reasons() []string {
	return Reasons(e.Failures)
}

// Reasons renders failures for display.
func Reasons(failures []Failure) []string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.String())
	}
	return out
}
