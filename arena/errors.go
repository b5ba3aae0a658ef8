package arena

// ArenaError is the error type surfaced by the arena core.
type ArenaError string

func (e ArenaError) Error() string {
	return string(e)
}

// Is lets the narrower not-found errors match ErrNotFound.
func (e ArenaError) Is(target error) bool {
	t, ok := target.(ArenaError)
	if !ok {
		return false
	}
	return t == ErrNotFound && e == ErrUnknownGameType
}

const (
	ErrAlreadyQueued  ArenaError = "bot is already queued"
	ErrAlreadyInMatch ArenaError = "bot is already in a match"
	ErrNotFound       ArenaError = "not found"
	// ErrInvalidCohort is an internal consistency violation.
	ErrInvalidCohort      ArenaError = "invalid cohort"
	ErrPersistenceFailure ArenaError = "persistence failure"
	ErrRuleViolation      ArenaError = "move violates game rules"
	ErrNameTaken          ArenaError = "bot name already taken"
	ErrInvalidName        ArenaError = "bot name is empty"
	ErrUnknownGameType    ArenaError = "unknown game type"
	ErrRoundClosed        ArenaError = "no round is open for submissions"
	ErrShuttingDown       ArenaError = "arena is shutting down"

	errShortHanded ArenaError = "not enough bots to seat a table"
)
