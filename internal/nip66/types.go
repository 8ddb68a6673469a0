// Package nip66 implements the six independent relay health-check
// dimensions (RTT, SSL, DNS, Geo, Net, HTTP) described in spec.md §4.5, each
// isolated so one test's failure never affects the others.
package nip66

// Logs is the (success, reason) pair every probe returns alongside its data.
// Invariant: Success == true implies Reason == ""; Success == false implies
// Reason != "".
type Logs struct {
	Success bool
	Reason  string
}

func ok() Logs           { return Logs{Success: true} }
func fail(reason string) Logs { return Logs{Success: false, Reason: reason} }

// Selection enables/disables individual tests for an orchestrator run.
type Selection struct {
	RTT  bool
	SSL  bool
	DNS  bool
	Geo  bool
	Net  bool
	HTTP bool
}

func AllTests() Selection {
	return Selection{RTT: true, SSL: true, DNS: true, Geo: true, Net: true, HTTP: true}
}
