//go:build !windows

package binding

// New returns the platform binding for the host application. Only Windows
// carries an automation binding; elsewhere callers get
// ErrUnsupportedPlatform and must inject their own Binding (tests do).
func New() (Binding, error) {
	return nil, ErrUnsupportedPlatform
}
