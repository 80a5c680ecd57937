package fit

import "errors"

// Direction labels which way the filter is traversing the trajectory when
// an update runs. It only affects which failure value a rejected update
// reports.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Recoverable numerical failures of the measurement update. A non-finite
// gain matrix aborts the update for that state; the caller decides whether
// to abandon or branch away from the hypothesis. The store is left without
// a filtered estimate for the rejected state but otherwise intact.
var (
	ErrForwardUpdateFailed  = errors.New("kalman update failed in forward direction")
	ErrBackwardUpdateFailed = errors.New("kalman update failed in backward direction")
)

// updateFailed maps a traversal direction to its failure value.
func updateFailed(dir Direction) error {
	if dir == Backward {
		return ErrBackwardUpdateFailed
	}
	return ErrForwardUpdateFailed
}
