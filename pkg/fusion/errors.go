package fusion

import "fmt"

// ErrorKind classifies engine failures per spec §7.
type ErrorKind int

const (
	// InvalidInput covers mismatched grids, empty atlas lists, negative
	// radii, and negative alpha — all fatal at configuration time, before
	// processing starts.
	InvalidInput ErrorKind = iota
	// NumericFailure covers a WeightSolver voxel where both the Cholesky
	// and SVD solve paths fail. Fatal during processing.
	NumericFailure
	// ResourceExhaustion covers buffer allocation exceeding a
	// caller-supplied memory budget. Fatal at allocation time.
	ResourceExhaustion
	// Cancelled is a non-error termination requested via context
	// cancellation between voxels.
	Cancelled
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case NumericFailure:
		return "NumericFailure"
	case ResourceExhaustion:
		return "ResourceExhaustion"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the engine's fatal-failure type. VoxelIndex is -1 when the
// failure is not attributable to a single voxel (e.g. configuration-time
// InvalidInput).
type Error struct {
	Kind       ErrorKind
	VoxelIndex int
	Err        error
}

func (e *Error) Error() string {
	if e.VoxelIndex >= 0 {
		return fmt.Sprintf("fusion: %s at voxel %d: %v", e.Kind, e.VoxelIndex, e.Err)
	}
	return fmt.Sprintf("fusion: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newConfigError(format string, args ...interface{}) error {
	return &Error{Kind: InvalidInput, VoxelIndex: -1, Err: fmt.Errorf(format, args...)}
}

func newResourceError(format string, args ...interface{}) error {
	return &Error{Kind: ResourceExhaustion, VoxelIndex: -1, Err: fmt.Errorf(format, args...)}
}

func newNumericError(voxelIndex int, format string, args ...interface{}) error {
	return &Error{Kind: NumericFailure, VoxelIndex: voxelIndex, Err: fmt.Errorf(format, args...)}
}

// IsCancelled reports whether err represents the Cancelled non-error
// termination kind.
func IsCancelled(err error) bool {
	fe, ok := err.(*Error)
	return ok && fe.Kind == Cancelled
}
