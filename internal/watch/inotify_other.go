//go:build !linux

package watch

// NewInotify always fails outside Linux; use the fsnotify backend instead.
func NewInotify() (Source, error) {
	return nil, ErrUnsupported
}
