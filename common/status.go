package common

// Status of a scene or of a batch job
type Status string

const (
	StatusPENDING Status = "PENDING"
	StatusDONE    Status = "DONE"
	StatusFAILED  Status = "FAILED"
	StatusRETRY   Status = "RETRY"
)
