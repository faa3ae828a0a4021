package notification

import (
	"time"
)

type Reason string

const (
	ReasonEnteredTop          Reason = "entered_top"
	ReasonNotTop              Reason = "not_top"
	ReasonAlreadyTop          Reason = "already_top"
	ReasonCooldown            Reason = "cooldown"
	ReasonCooldownUnparseable Reason = "cooldown_unparseable"
)

type Decision struct {
	Notify bool
	Reason Reason
	// Elapsed is the time since the last push, zero when unknown.
	Elapsed time.Duration
}

// Evaluate decides whether a report moving a device from previous to current
// warrants a push. An empty previous level means the device was unknown.
//
// A push is only sent when the device enters the top level. Entries within
// cooldown of lastNotifiedAt are suppressed. A lastNotifiedAt that cannot be
// parsed never blocks a push.
func Evaluate(previous, current, lastNotifiedAt string, now time.Time, top string, cooldown time.Duration) Decision {
	if current != top {
		return Decision{Reason: ReasonNotTop}
	}

	if previous == top {
		return Decision{Reason: ReasonAlreadyTop}
	}

	if lastNotifiedAt == "" {
		return Decision{Notify: true, Reason: ReasonEnteredTop}
	}

	last, err := time.Parse(time.RFC3339Nano, lastNotifiedAt)
	if err != nil {
		return Decision{Notify: true, Reason: ReasonCooldownUnparseable}
	}

	elapsed := now.Sub(last)
	if elapsed < cooldown {
		return Decision{Reason: ReasonCooldown, Elapsed: elapsed}
	}

	return Decision{Notify: true, Reason: ReasonEnteredTop, Elapsed: elapsed}
}

func ShouldNotify(previous, current, lastNotifiedAt string, now time.Time, top string, cooldown time.Duration) bool {
	return Evaluate(previous, current, lastNotifiedAt, now, top, cooldown).Notify
}
