package feedback

import "fmt"

// BackendError is returned when the collector answers with a non-2xx status.
type BackendError struct {
	Op     string
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("feedback: %s: status=%d", e.Op, e.Status)
	}
	return fmt.Sprintf("feedback: %s: status=%d body=%s", e.Op, e.Status, e.Body)
}

// TransportError is returned when the request never produced a response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("feedback: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
