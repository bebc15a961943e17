package domain

import "time"

// ExecutionStatus is the state of one run session.
type ExecutionStatus string

const (
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecStopped   ExecutionStatus = "stopped"
	ExecError     ExecutionStatus = "error"
)

// Execution is one start-to-stop run session of a bot. It is created on
// start and closed on stop, crash or restart; Number is monotonic per bot.
type Execution struct {
	ID              string
	BotID           string
	Number          int
	Status          ExecutionStatus
	StartingCapital float64
	EndingCapital   float64
	TradeCount      int
	ErrorCount      int
	StopReason      StopReason
	StopDetail      string
	StartedAt       time.Time
	EndedAt         *time.Time
}
