package domain

// QuizStatus tracks the per-user-per-project calibration state machine.
// Passed and failed are terminal.
type QuizStatus string

const (
	QuizNotStarted QuizStatus = "not_started"
	QuizInProgress QuizStatus = "in_progress"
	QuizPassed     QuizStatus = "passed"
	QuizFailed     QuizStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s QuizStatus) Terminal() bool {
	return s == QuizPassed || s == QuizFailed
}

// QuizConfig is a project's calibration settings.
type QuizConfig struct {
	Enabled   bool `json:"enabled"`
	Questions int  `json:"questions"`
	Pass      int  `json:"pass"`
}

// QuizResult counts graded calibration answers.
type QuizResult struct {
	Right int `json:"right"`
	Wrong int `json:"wrong"`
}

// Quiz is one user's calibration state for one project. Config is a
// snapshot of the project's settings taken when the quiz is first touched.
type Quiz struct {
	UserID    int64      `json:"-"`
	ProjectID int64      `json:"-"`
	Status    QuizStatus `json:"status"`
	Result    QuizResult `json:"result"`
	Config    QuizConfig `json:"config"`
}

// Answered returns how many calibration answers have been graded.
func (q *Quiz) Answered() int { return q.Result.Right + q.Result.Wrong }
