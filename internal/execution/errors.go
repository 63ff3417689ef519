package execution

import "fmt"

// DuplicateOrderError is raised when internalID was already submitted (from
// the transaction log on restart or earlier in this process). Submission
// makes zero broker calls when this fires.
type DuplicateOrderError struct {
	InternalOrderID string
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("execution: duplicate internal_order_id %s", e.InternalOrderID)
}
