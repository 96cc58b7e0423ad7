package models

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrJobNotFound       = errors.New("ocr job not found")
	ErrLeaseHeld         = errors.New("document lease held by another invocation")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrOCRTimeout        = errors.New("ocr job did not finish in time")
	ErrOCRFailed         = errors.New("ocr job failed")
	ErrBatchTooLarge     = errors.New("batch exceeds provider limit")
)
