package errors

import "strings"

// ValidationReport accumulates one ServiceError per distinct defect found
// while compiling a workflow definition, rather than failing on the first.
type ValidationReport struct {
	Errors []*ServiceError
}

// Add records a defect.
func (r *ValidationReport) Add(err *ServiceError) {
	r.Errors = append(r.Errors, err)
}

// OK reports whether no defects were recorded.
func (r *ValidationReport) OK() bool {
	return len(r.Errors) == 0
}

// Error renders all recorded defects as a single message, implementing error.
func (r *ValidationReport) Error() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}
