package models

// StateType enumerates the logical role a ServiceState row plays.
type StateType string

const (
	StateTypeCursor    StateType = "cursor"
	StateTypeCandidate StateType = "candidate"
	StateTypeOther     StateType = "other"
)

// ServiceState is one row of the pipeline's shared key/value state table:
// (service_name, state_type, state_key) -> (state_value, updated_at).
type ServiceState struct {
	ServiceName string
	StateType   StateType
	StateKey    string
	StateValue  map[string]any
	UpdatedAt   int64
}

// CandidateValue is the state_value shape for StateTypeCandidate rows.
type CandidateValue struct {
	Network  Network `json:"network"`
	Failures int     `json:"failures"`
}

// Candidate is a convenience view combining a relay URL with its candidate
// bookkeeping, materialized from a ServiceState row.
type Candidate struct {
	URL       string
	Network   Network
	Failures  int
	UpdatedAt int64
}

func (c Candidate) ToState(serviceName string) ServiceState {
	return ServiceState{
		ServiceName: serviceName,
		StateType:   StateTypeCandidate,
		StateKey:    c.URL,
		StateValue: map[string]any{
			"network":  string(c.Network),
			"failures": float64(c.Failures),
		},
		UpdatedAt: c.UpdatedAt,
	}
}

func CandidateFromState(s ServiceState) Candidate {
	c := Candidate{URL: s.StateKey, UpdatedAt: s.UpdatedAt}
	if network, ok := s.StateValue["network"].(string); ok {
		c.Network = Network(network)
	}
	if failures, ok := s.StateValue["failures"].(float64); ok {
		c.Failures = int(failures)
	}
	return c
}

// EventRelayCursor is a view over a StateTypeCursor row owned by the
// synchronizer: per-relay (seen_at, event_id) scanning progress.
type EventRelayCursor struct {
	RelayURL string
	SeenAt   *int64
	EventID  *string
}

func (c EventRelayCursor) ToState(serviceName string) ServiceState {
	value := map[string]any{}
	if c.SeenAt != nil {
		value["seen_at"] = float64(*c.SeenAt)
	}
	if c.EventID != nil {
		value["event_id"] = *c.EventID
	}
	return ServiceState{
		ServiceName: serviceName,
		StateType:   StateTypeCursor,
		StateKey:    c.RelayURL,
		StateValue:  value,
	}
}

func CursorFromState(s ServiceState) EventRelayCursor {
	c := EventRelayCursor{RelayURL: s.StateKey}
	if seenAt, ok := s.StateValue["seen_at"].(float64); ok {
		v := int64(seenAt)
		c.SeenAt = &v
	}
	if eventID, ok := s.StateValue["event_id"].(string); ok {
		c.EventID = &eventID
	}
	return c
}

// Valid enforces the EventRelayCursor invariant: event_id may be set only if
// seen_at is also set.
func (c EventRelayCursor) Valid() bool {
	if c.EventID != nil && c.SeenAt == nil {
		return false
	}
	return true
}
