package domain

import "time"

// Policy selects how the scheduler picks the next task for a contributor.
type Policy string

const (
	PolicyDefault      Policy = "default"       // priority-ordered, no locking
	PolicyDepthFirst   Policy = "depth_first"   // oldest-created-first within priority
	PolicyBreadthFirst Policy = "breadth_first" // fewest answers first
	PolicyLocked       Policy = "locked"        // mutual exclusion per task
	PolicyUserPref     Policy = "user_pref"     // locked + preference-tag filtering
)

// Valid reports whether p names a known scheduling policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyDefault, PolicyDepthFirst, PolicyBreadthFirst, PolicyLocked, PolicyUserPref:
		return true
	}
	return false
}

// RequiresLock reports whether p enforces mutual exclusion via the lock store.
func (p Policy) RequiresLock() bool {
	return p == PolicyLocked || p == PolicyUserPref
}

// DefaultTimeout is the task presentation / lock window when a project
// does not configure one.
const DefaultTimeout = time.Hour

// Project is the scheduling surface of a crowdsourcing project. The
// surrounding application owns the full project record; the engine only
// needs the fields that drive task distribution.
type Project struct {
	ID                 int64      `json:"id"`
	ShortName          string     `json:"short_name"`
	Name               string     `json:"name"`
	OwnerID            int64      `json:"owner_id"`
	Published          bool       `json:"published"`
	Scheduler          Policy     `json:"scheduler"`
	TimeoutSeconds     int        `json:"timeout"`
	RandWithinPriority bool       `json:"sched_rand_within_priority"`
	DefaultNAnswers    int        `json:"default_n_answers"`
	AllowAnonymous     bool       `json:"allow_anonymous"`
	Quiz               QuizConfig `json:"quiz"`
	Created            time.Time  `json:"created"`
}

// Timeout returns the lock/presentation window for the project.
func (p *Project) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// SchedulerPolicy returns the project's policy, falling back to default
// when unset or unknown.
func (p *Project) SchedulerPolicy() Policy {
	if p.Scheduler.Valid() {
		return p.Scheduler
	}
	return PolicyDefault
}
