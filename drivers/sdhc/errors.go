package sdhc

import (
	"errors"

	"github.com/clktmr/sdhc/drivers/sdhc/sdcmd"
)

var (
	ErrCommandInhibitTimeout = errors.New("sdhc: command inhibit timeout")
	ErrResponseTimeout       = errors.New("sdhc: response timeout")
	ErrBadResponse           = errors.New("sdhc: bad response")
	ErrDataTimeout           = errors.New("sdhc: data timeout")
	ErrDataCRC               = errors.New("sdhc: data error")
	ErrCardStatus            = errors.New("sdhc: card reported error")
	ErrCardRejected          = errors.New("sdhc: card rejected switch")
	ErrTuningFailed          = errors.New("sdhc: tuning failed")
	ErrStopTransmission      = errors.New("sdhc: stop transmission failed")
	ErrUnsupportedCard       = errors.New("sdhc: unsupported card")
	ErrClockTimeout          = errors.New("sdhc: internal clock not stable")
	ErrResetTimeout          = errors.New("sdhc: software reset timeout")
	ErrVoltageSwitch         = errors.New("sdhc: signal voltage switch failed")
	ErrNoCard                = errors.New("sdhc: no card")
	ErrNotReady              = errors.New("sdhc: card not initialized")
	ErrOutOfRange            = errors.New("sdhc: sector out of range")
	ErrShortBuffer           = errors.New("sdhc: buffer too short")
)

// CommandError records a failed command and the reason.
type CommandError struct {
	Cmd sdcmd.Index
	Err error
}

func (e *CommandError) Error() string { return e.Cmd.String() + ": " + e.Err.Error() }

func (e *CommandError) Unwrap() error { return e.Err }
