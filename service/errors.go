package service

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"syscall"
	"time"

	"github.com/airbusgeo/landsat-processor/common"
	"github.com/lib/pq"
	"google.golang.org/api/googleapi"
)

type errTmpIf interface{ Temporary() bool }
type errTmp struct{ error }

func (t errTmp) Temporary() bool    { return true }
func (t *errTmp) Unwrap() error     { return t.error }
func MakeTemporary(err error) error { return &errTmp{err} }

type errFatalIf interface{ Fatal() bool }
type errFatal struct{ error }

func (t errFatal) Fatal() bool    { return true }
func (t *errFatal) Unwrap() error { return t.error }
func MakeFatal(err error) error   { return &errFatal{err} }

// Temporary inspects the error trace and returns whether the error is transient
// Scene processing errors (band, grid, metadata, crs...) are never transient.
func Temporary(err error) bool {
	if err == nil {
		return false
	}
	if common.KindOf(err) != common.KindInternal {
		return false
	}

	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EIO, syscall.EBUSY, syscall.ECANCELED, syscall.ECONNABORTED, syscall.ECONNRESET, syscall.ENOMEM, syscall.EPIPE:
			return true
		}
	}

	var tmp errTmpIf
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	var gapiError *googleapi.Error
	if errors.As(err, &gapiError) {
		return gapiError.Code == 429 || gapiError.Code >= 500
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// connection exception, transaction rollback, insufficient resources, operator intervention
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Fatal inspects the error and returns whether it's a fatal error
// A configuration error (unknown index, invalid crs) is always fatal.
func Fatal(err error) bool {
	if common.IsConfigurationError(err) {
		return true
	}
	var tmp errFatalIf
	if errors.As(err, &tmp) {
		return tmp.Fatal()
	}
	return false
}

// Retriable calls f until it succeeds, returns a processing or fatal error or nbTries is reached.
// It waits wait, 2*wait, 4*wait... between each try.
func Retriable(ctx context.Context, f func() error, wait time.Duration, nbTries int) error {
	var err error
	for i := 0; i < nbTries; i++ {
		if err = f(); err == nil || !Temporary(MakeTemporary(err)) || Fatal(err) {
			return err
		}
		if i == nbTries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("Retriable: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait << i):
		}
	}
	return err
}

// MergeErrors, appending texts
// if priorityToErr is true, priority to the fatal error then to the temporary
// else, priority to no error, then to the temporary and finally to the fatal error.
func MergeErrors(priorityToError bool, err error, newErrs ...error) error {
	for _, newErr := range newErrs {
		switch {
		case newErr == nil:
			if !priorityToError {
				return nil
			}
		case err == nil:
			err = newErr
		case priorityToError != Temporary(err):
			err = fmt.Errorf("%w\n %v", err, newErr)
		default:
			err = fmt.Errorf("%w\n %v", newErr, err)
		}
	}
	return err
}
