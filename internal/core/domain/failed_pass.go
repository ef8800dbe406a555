package domain

// FailedPass records a source pass that exhausted its retries and was
// parked for later recovery
type FailedPass struct {
	ID          string   `json:"id"`
	Source      string   `json:"source"`
	Protocol    Protocol `json:"protocol"`
	ErrorMsg    string   `json:"error_msg"`
	RetryCount  int      `json:"retry_count"`
	LastAttempt int64    `json:"last_attempt"`
	CreatedAt   int64    `json:"created_at"`
}
