package domain

import "github.com/jonboulle/clockwork"

// clock stamps AnimationData.BuiltAt. Tests and the fixture tools freeze it via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the build time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
