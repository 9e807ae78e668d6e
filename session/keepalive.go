package session

import "time"

// Keep-alive probes come in two flavors. While foregrounded a telnet NOP
// is enough to keep NATs and the server's idle timer honest. Deep in the
// background the probe escalates to a real command so the server answers
// with data, which is what keeps the OS from reaping the socket.
var provokeCommands = []string{"look", "score", "time"}

// NextKeepAliveInterval selects the delay before the next background
// probe. quality is a 0..1 score of recent probe health (1 = every probe
// answered); budget is a hint of remaining background execution time, or
// zero when unknown.
//
// A healthy connection probes at the configured foreground cadence scaled
// down by half; a degraded one tightens toward the floor. When a budget
// hint is available the interval never exceeds half of it, so at least
// one more probe fits before the host suspends us.
func NextKeepAliveInterval(quality float64, budget time.Duration, foreground, floor time.Duration) time.Duration {
	if quality < 0 {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}

	span := foreground/2 - floor
	interval := floor + time.Duration(float64(span)*quality)

	if budget > 0 && interval > budget/2 {
		interval = budget / 2
	}
	if interval < floor {
		interval = floor
	}
	return interval
}

// provokeCommand returns the rotating "make the server talk" command for
// the nth escalated probe.
func provokeCommand(n int) string {
	return provokeCommands[n%len(provokeCommands)]
}
