package domain

import "fmt"

// SessionState models the lifecycle of a single conversation turn.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateStarting   SessionState = "starting"
	SessionStateListening  SessionState = "listening"
	SessionStateProcessing SessionState = "processing"
	SessionStateResponding SessionState = "responding"
	SessionStateEnded      SessionState = "ended"
	SessionStateError      SessionState = "error"
)

// StateReason provides a structured reason for state transitions.
type StateReason string

const (
	ReasonStartup              StateReason = "startup"
	ReasonTurnStarted          StateReason = "turn_started"
	ReasonListening            StateReason = "listening"
	ReasonQuerySubmitted       StateReason = "query_submitted"
	ReasonUtteranceEnded       StateReason = "utterance_ended"
	ReasonListeningCancelled   StateReason = "listening_cancelled"
	ReasonResponseReceived     StateReason = "response_received"
	ReasonPlaybackDone         StateReason = "playback_done"
	ReasonTurnComplete         StateReason = "turn_complete"
	ReasonContinueConversation StateReason = "continue_conversation"
	ReasonTurnFailed           StateReason = "turn_failed"
)

// ErrorCategory is the closed classification of turn failures surfaced
// to the presentation layer.
type ErrorCategory string

const (
	ErrorAlreadyInProgress ErrorCategory = "already_in_progress"
	ErrorDevice            ErrorCategory = "device"
	ErrorBackendOffline    ErrorCategory = "backend_offline"
	ErrorAuthInvalid       ErrorCategory = "auth_invalid"
	ErrorBackendUnexpected ErrorCategory = "backend_unexpected"
)

// Suggestion is a follow-up chip attached to a response.
type Suggestion struct {
	Label string `json:"label"`
	Query string `json:"query"`
}

// ResponsePayload is the structured response data returned by the backend.
// The text body is interpreted only by the classifier.
type ResponsePayload struct {
	Text         string       `json:"text"`
	Suggestions  []Suggestion `json:"suggestions,omitempty"`
	DeviceAction string       `json:"deviceAction,omitempty"`
}

// ResultKind tags the classified shape of a response body.
type ResultKind string

const (
	ResultPlainText ResultKind = "plain_text"
	ResultSearch    ResultKind = "search_result"
	ResultVideo     ResultKind = "video_result"
	ResultGeneric   ResultKind = "generic"
)

// Result is the typed outcome of classifying a response payload.
// Populated fields depend on Kind.
type Result struct {
	Kind ResultKind `json:"kind"`

	Body string `json:"body,omitempty"`

	Title       string `json:"title,omitempty"`
	Attribution string `json:"attribution,omitempty"`
	Source      string `json:"source,omitempty"`
	Snippet     string `json:"snippet,omitempty"`

	Channel     string `json:"channel,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`

	Raw string `json:"raw,omitempty"`
}

// Turn is one exchange with the backend. A Turn is mutated only by the
// owning session and becomes immutable once committed to history.
type Turn struct {
	ID          string          `json:"id"`
	Query       string          `json:"query"`
	Payload     ResponsePayload `json:"payload"`
	Result      Result          `json:"result"`
	Suggestions []Suggestion    `json:"suggestions,omitempty"`
	Generation  uint64          `json:"generation"`
	Committed   bool            `json:"committed"`
}

// BackendEventKind tags events emitted by a conversation turn stream.
type BackendEventKind string

const (
	BackendEventTranscription  BackendEventKind = "transcription"
	BackendEventAudio          BackendEventKind = "audio"
	BackendEventEndOfUtterance BackendEventKind = "end_of_utterance"
	BackendEventResponse       BackendEventKind = "response"
	BackendEventDeviceAction   BackendEventKind = "device_action"
	BackendEventEnded          BackendEventKind = "ended"
	BackendEventError          BackendEventKind = "error"
)

// BackendError carries the opaque code/message pair reported by the backend.
type BackendError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
}

// BackendEvent is one tagged event delivered by a turn stream. Fields
// other than Kind are populated per kind.
type BackendEvent struct {
	Kind BackendEventKind

	Text    string
	IsFinal bool

	Audio []byte

	Payload *ResponsePayload

	DeviceAction string

	ContinueExpected bool

	Err *BackendError
}

// Status summarizes the current session for the presentation layer.
type Status struct {
	State         SessionState `json:"state"`
	Active        bool         `json:"active"`
	MicDisabled   bool         `json:"micDisabled"`
	HistoryHead   int          `json:"historyHead"`
	HistoryLength int          `json:"historyLength"`
	Message       string       `json:"message,omitempty"`
}
