//go:build !darwin || test

package clipboard

func write(data []byte) error {
	return ErrUnavailable
}
