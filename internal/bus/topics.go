package bus

// Timer event topics.
const (
	TopicTimerFired     = "timer.fired"
	TopicTimerCancelled = "timer.cancelled"
)

// Observer event topics.
const (
	TopicObserverStopRequested = "observer.stop_requested"
	TopicObserverPanic         = "observer.panic"
)

// Agent driver event topics.
const (
	TopicAgentInvocationStarted   = "agent.invocation.started"
	TopicAgentInvocationCompleted = "agent.invocation.completed"
	TopicAgentInvocationAborted   = "agent.invocation.aborted"
)

// TimerEvent is published each time a Timer fires.
type TimerEvent struct {
	TimerID  string // Timer ID
	TaskType string // task_type the timer emits
	Repeat   bool   // whether the timer is repeating
}

// ObserverEvent is published when an observer requests a stop or panics.
type ObserverEvent struct {
	ObserverID string // Observer ID
	Phase      string // Phase name during which the event occurred
	Reason     string // Optional reason / recovered panic value
}

// AgentInvocationEvent is published at agent execution-context boundaries.
type AgentInvocationEvent struct {
	ExecutionID   string // Execution context ID
	AgentID       string // Agent identifier
	CorrelationID string // Correlation ID of the invocation chain
	TasksHandled  int    // Tasks processed so far in this context
	IsComplete    bool   // Whether the handler reported completion
}
