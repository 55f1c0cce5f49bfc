package service

// State is the position of the pipeline in its run loop
type State int32

const (
	StateStarting State = iota
	StateWaiting
	StateEvaluating
	StateIdle
	StateLogging
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWaiting:
		return "waiting_for_event"
	case StateEvaluating:
		return "evaluating"
	case StateIdle:
		return "idle"
	case StateLogging:
		return "logging"
	case StateShutDown:
		return "shut_down"
	default:
		return "unknown"
	}
}
