package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData indicates the series is too short to analyse.
	ErrInsufficientData = errors.New("insufficient price history")
	// ErrInvalidInput indicates a malformed observation or request.
	ErrInvalidInput = errors.New("invalid input")
)

func insufficientData(got int) error {
	return fmt.Errorf("%w: %d observations, need at least %d", ErrInsufficientData, got, MinObservations)
}

func invalidObservation(index int, format string, args ...any) error {
	return fmt.Errorf("%w: observation %d: %s", ErrInvalidInput, index, fmt.Sprintf(format, args...))
}
