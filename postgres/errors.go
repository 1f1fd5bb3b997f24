package postgresfixture

import (
	"errors"
	"fmt"
)

// Classification sentinels. They are attached with errors.Join next to the
// underlying cause, so errors.Is matches both the category and the cause.
var (
	ErrContainerCreate = errors.New("container creation failed")
	ErrContainerStart  = errors.New("container start failed")
	ErrPortDiscovery   = errors.New("postgres port discovery failed")
	ErrConnectTimeout  = errors.New("postgres connect retry budget exhausted")
	ErrDatabase        = errors.New("postgres statement failed")
)

// CleanupError reports a teardown failure. Teardown is best effort: its
// failure is joined to the primary error, never substituted for it. When
// teardown is the only failure, the CleanupError is returned on its own.
type CleanupError struct {
	Op  string
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup: %s, %s", e.Op, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// withCleanup attaches a teardown failure to the primary error. The primary
// error always wins; a nil primary promotes the cleanup error itself.
func withCleanup(primary error, op string, cleanupErr error) error {
	if cleanupErr == nil {
		return primary
	}

	cerr := &CleanupError{Op: op, Err: cleanupErr}

	if primary == nil {
		return cerr
	}

	return errors.Join(primary, cerr)
}
