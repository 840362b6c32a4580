package acquire

import (
	"errors"
	"fmt"
	"strings"

	"equityfeed/pkg/market"
)

var (
	// ErrAcquisition matches every AcquisitionError.
	ErrAcquisition = errors.New("acquire: no data available")
	// ErrUnknownSymbol is returned by LookupName for codes absent from the directory.
	ErrUnknownSymbol = errors.New("acquire: unknown symbol")
	// ErrNoGuardian is returned by maintenance operations on a store without a disk tier.
	ErrNoGuardian = errors.New("acquire: cache maintenance unavailable")
)

// AcquisitionError means every provider failed and no cached entry of any age exists.
type AcquisitionError struct {
	Request market.Request
	Reasons []string
	Err     error
}

func (e *AcquisitionError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("acquire %s: no data available", e.Request.Fingerprint())
	}
	return fmt.Sprintf("acquire %s: no data available: %s", e.Request.Fingerprint(), strings.Join(e.Reasons, "; "))
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAcquisition) hold.
func (e *AcquisitionError) Is(target error) bool { return target == ErrAcquisition }

// IsAcquisitionError reports whether err is a terminal acquisition failure.
func IsAcquisitionError(err error) bool {
	return errors.Is(err, ErrAcquisition)
}
