package frontend

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger returns a production logger, or a development logger with debug
// output when verbose is set.
func NewLogger(verbose bool) (*zap.SugaredLogger, error) {
	newLogger := zap.NewProduction
	if verbose {
		newLogger = zap.NewDevelopment
	}

	l, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to get zap logger: %w", err)
	}

	return l.Sugar(), nil
}
