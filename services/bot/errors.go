package bot

import "fmt"

// The error taxonomy from the error handling design. Each kind is a
// distinct exported type so the HTTP collaborator can map it to a status
// code with errors.As instead of branching on error message text.

// ValidationError signals a precondition failure caught before any
// subprocess or I/O is attempted (missing credential, missing runtime tag).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// RiskVeto signals a static RADAR verdict that aborted a start attempt.
type RiskVeto struct {
	Reason string
	Score  int
}

func (e *RiskVeto) Error() string {
	return fmt.Sprintf("RADAR veto (score %d): %s", e.Score, e.Reason)
}

// WorkspaceError signals I/O failure while materializing a bot's workspace.
type WorkspaceError struct {
	Cause error
}

func (e *WorkspaceError) Error() string { return fmt.Sprintf("workspace: %v", e.Cause) }
func (e *WorkspaceError) Unwrap() error { return e.Cause }

// InstallerError signals the package tool exited non-zero or timed out.
// Per spec §4.3 this is logged and swallowed — constructed so callers that
// do want to inspect it may, but the Supervisor never surfaces it.
type InstallerError struct {
	Cause error
}

func (e *InstallerError) Error() string { return fmt.Sprintf("installer: %v", e.Cause) }
func (e *InstallerError) Unwrap() error { return e.Cause }

// SpawnError signals the runtime binary was missing or exec failed.
type SpawnError struct {
	Cause error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn: %v", e.Cause) }
func (e *SpawnError) Unwrap() error { return e.Cause }

// RuntimeFailure signals the child exited non-zero, or stderr matched one
// of the token-failure patterns.
type RuntimeFailure struct {
	Reason string
}

func (e *RuntimeFailure) Error() string { return "runtime failure: " + e.Reason }

// AbuseVeto signals a runtime RADAR breach (CPU or memory over quota).
type AbuseVeto struct {
	Reason string
}

func (e *AbuseVeto) Error() string { return "RADAR abuse veto: " + e.Reason }

// StopTimeout signals the graceful-termination wait exceeded its bound and
// a forceful kill was issued. Not an error returned to the caller of stop;
// it exists so the escalation can be logged distinctly.
type StopTimeout struct {
	Bot string
}

func (e *StopTimeout) Error() string { return "stop timeout escalated to kill for bot " + e.Bot }

// NotFoundError signals the referenced bot does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return "bot not found: " + e.ID }

// OwnershipError signals the caller does not own the referenced bot.
type OwnershipError struct {
	ID string
}

func (e *OwnershipError) Error() string { return "caller does not own bot: " + e.ID }

// AlreadyRunningError signals start was called while a Process Handle
// already exists for the bot.
type AlreadyRunningError struct {
	ID string
}

func (e *AlreadyRunningError) Error() string { return "bot already running: " + e.ID }

// UnknownFilenameError signals updateFile referenced a filename the bot
// does not have.
type UnknownFilenameError struct {
	BotID    string
	Filename string
}

func (e *UnknownFilenameError) Error() string {
	return "unknown filename " + e.Filename + " for bot " + e.BotID
}

// BotQuotaExceededError signals bot creation was rejected because the
// caller already owns MAX_BOTS_PER_USER bots.
type BotQuotaExceededError struct {
	OwnerID string
	Limit   int
}

func (e *BotQuotaExceededError) Error() string {
	return fmt.Sprintf("owner %s already has the maximum of %d bots", e.OwnerID, e.Limit)
}
