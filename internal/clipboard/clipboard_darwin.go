//go:build darwin && !test

package clipboard

import (
	"fmt"
	"sync"

	xclipboard "golang.design/x/clipboard"
)

var (
	initOnce sync.Once
	initErr  error
)

func write(data []byte) error {
	initOnce.Do(func() {
		initErr = xclipboard.Init()
	})
	if initErr != nil {
		return fmt.Errorf("failed to initialize clipboard: %w", initErr)
	}
	xclipboard.Write(xclipboard.FmtText, data)
	return nil
}
