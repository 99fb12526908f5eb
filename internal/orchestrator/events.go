package orchestrator

// Observer receives conversation lifecycle notifications at the application
// boundary. Implementations must be safe for concurrent use; the orchestrator
// invokes observer methods from session goroutines.
type Observer interface {
	// OnSessionStarted fires after a conversation is fully initialised.
	OnSessionStarted(sessionID, userID string)

	// OnSessionEnded fires exactly once per conversation. err is nil for
	// clean shutdowns.
	OnSessionEnded(sessionID string, err error)

	// OnTurn fires after a completed turn is recorded.
	OnTurn(sessionID, speaker, content string)

	// OnError reports a non-fatal processing error within a conversation.
	OnError(sessionID string, err error)
}

// NopObserver is an Observer that ignores all notifications.
type NopObserver struct{}

func (NopObserver) OnSessionStarted(string, string) {}
func (NopObserver) OnSessionEnded(string, error)    {}
func (NopObserver) OnTurn(string, string, string)   {}
func (NopObserver) OnError(string, error)           {}

var _ Observer = NopObserver{}
