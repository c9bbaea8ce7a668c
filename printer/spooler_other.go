//go:build !windows

package printer

import (
	"context"
	"fmt"
)

// SpoolerDialer is only available on Windows.
type SpoolerDialer struct {
	PrinterName string
	DocName     string
}

func (d SpoolerDialer) Dial(context.Context) (Link, error) {
	return nil, fmt.Errorf("windows spooler printing is only supported on windows: %w", ErrServiceUnavailable)
}
