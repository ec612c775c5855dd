package scanner

import (
	"context"
	"errors"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
)

// ErrDisconnected is returned by every client call once the link to the
// scanner is gone.
var ErrDisconnected = errors.New("client is disconnected")

// ErrorCode is an error code reported by the scanner driver.
type ErrorCode string

const (
	ErrInvalidParam            ErrorCode = "InvalidParam"
	ErrNoDevices               ErrorCode = "NoDevices"
	ErrNoSupportEject          ErrorCode = "NoSupportEject"
	ErrPaperStatusErrorFeeding ErrorCode = "PaperStatusErrorFeeding"
	ErrPaperStatusNoPaper      ErrorCode = "PaperStatusNoPaper"
	ErrSaneStatusInval         ErrorCode = "SaneStatusInval"
	ErrSaneStatusIoError       ErrorCode = "SaneStatusIoError"
)

// ScannerError is an error response from the driver to a command.
type ScannerError struct {
	Command string
	Code    ErrorCode
}

func (e *ScannerError) Error() string {
	return e.Command + ": " + string(e.Code)
}

// RejectOptions controls how a sheet is pushed back out. With Hold set the
// scanner keeps the sheet in the front tray for the voter to take.
type RejectOptions struct {
	Hold bool
}

// Client is the device contract the orchestrator drives. A Client owns one
// connection; after Close or a lost link every call returns ErrDisconnected.
type Client interface {
	PaperStatus(ctx context.Context) (PaperStatus, error)
	Scan(ctx context.Context) (ballot.SheetOf[string], error)
	Accept(ctx context.Context) error
	Reject(ctx context.Context, opts RejectOptions) error
	Close() error
}

// Connector opens a new connection to the scanner.
type Connector func(ctx context.Context) (Client, error)
