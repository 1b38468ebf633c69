package schemas

import "time"

// -- Provisioning Schemas --

// ProvisioningResult holds the credentials produced by one successful run.
// It is never persisted as-is; the lifecycle store derives an Account from it.
type ProvisioningResult struct {
	AccountEmail    string `json:"account_email"`
	AccountPassword string `json:"account_password"`
	PlayerUsername  string `json:"player_username"`
	PlayerPassword  string `json:"player_password"`
}

// ProgressEvent reports that a run reached a stage.
type ProgressEvent struct {
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`

	// Err is set only on the terminal event of a failed run.
	Err error `json:"-"`
}

// Failed reports whether the event terminates a failed run.
func (e ProgressEvent) Failed() bool { return e.Err != nil }
