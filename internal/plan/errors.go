package plan

import "fmt"

type ErrorKind string

const KindPortExhausted ErrorKind = "PortExhausted"

// PlanError reports why a configuration could not be expanded.
type PlanError struct {
	Kind      ErrorKind
	Instance  string
	GuestPort int
	Requested int
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan %s: %s: no free host port for guest port %d within %d ports of %d",
		e.Kind, e.Instance, e.GuestPort, PortSearchWindow, e.Requested)
}
