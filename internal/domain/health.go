package domain

// Severity ranks how urgent a health issue is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// HealthIssue is one derived problem surfaced by the health check,
// reported instead of raw errors.
type HealthIssue struct {
	Code     string
	Severity Severity
	Message  string
}

// Health is the derived health report for a bot.
type Health struct {
	BotID  string
	Status BotStatus
	Issues []HealthIssue
}

// Healthy reports whether no issue reaches high severity.
func (h Health) Healthy() bool {
	for _, issue := range h.Issues {
		if issue.Severity == SeverityHigh || issue.Severity == SeverityCritical {
			return false
		}
	}
	return true
}
