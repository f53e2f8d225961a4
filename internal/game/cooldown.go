package game

import "time"

type Action string

const (
	ActionBeg     Action = "beg"
	ActionRob     Action = "rob"
	ActionBankrob Action = "bankrob"
	ActionDaily   Action = "daily"
)

type Decision struct {
	Allowed   bool
	Remaining time.Duration
}

// Gate decides whether a cooldown-gated action may run. Beg, rob and bankrob
// use a fixed duration since the last use; daily resets at UTC midnight.
type Gate struct {
	durations map[Action]time.Duration
}

func NewGate(s Settings) Gate {
	return Gate{durations: map[Action]time.Duration{
		ActionBeg:     s.BegCooldown,
		ActionRob:     s.RobCooldown,
		ActionBankrob: s.BankrobCooldown,
	}}
}

func (g Gate) Check(a Account, action Action, now time.Time) Decision {
	last := lastUsed(a, action)
	if last <= 0 {
		return Decision{Allowed: true}
	}
	if action == ActionDaily {
		return checkDaily(fromUnixSeconds(last), now)
	}
	cooldown := g.durations[action]
	elapsed := now.Sub(fromUnixSeconds(last))
	if elapsed >= cooldown {
		return Decision{Allowed: true}
	}
	return Decision{Remaining: cooldown - elapsed}
}

func (g Gate) Err(a Account, action Action, now time.Time) error {
	d := g.Check(a, action, now)
	if d.Allowed {
		return nil
	}
	return &CooldownError{Action: action, Remaining: d.Remaining}
}

func checkDaily(last, now time.Time) Decision {
	now = now.UTC()
	ly, lm, ld := last.UTC().Date()
	ny, nm, nd := now.Date()
	if ly != ny || lm != nm || ld != nd {
		return Decision{Allowed: true}
	}
	midnight := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return Decision{Remaining: midnight.Sub(now)}
}

func lastUsed(a Account, action Action) float64 {
	switch action {
	case ActionBeg:
		return a.LastBeg
	case ActionRob:
		return a.LastRob
	case ActionBankrob:
		return a.LastBankrob
	case ActionDaily:
		return a.LastDaily
	}
	return 0
}

func stamp(a *Account, action Action, now time.Time) {
	ts := unixSeconds(now)
	switch action {
	case ActionBeg:
		a.LastBeg = ts
	case ActionRob:
		a.LastRob = ts
	case ActionBankrob:
		a.LastBankrob = ts
	case ActionDaily:
		a.LastDaily = ts
	}
}
