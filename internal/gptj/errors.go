package gptj

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFileType    = errors.New("unsupported file type")
	ErrInvariantBroken        = errors.New("hyperparameter invariant broken")
	ErrOverflow               = errors.New("hyperparameter does not fit in int32")
	ErrInvalidInteger         = errors.New("negative hyperparameter")
	ErrInvalidHyperparameters = errors.New("invalid hyperparameters")
	ErrMissingEndOfText       = errors.New("end-of-text token missing from vocabulary")
	ErrEmptyInput             = errors.New("no input tokens")
	ErrTokenOutOfRange        = errors.New("token id out of range")
)

// TokenError identifies the input position holding an invalid token.
type TokenError struct {
	Index  int
	Token  int32
	NVocab int
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%v: token %d at index %d (n_vocab %d)", ErrTokenOutOfRange, e.Token, e.Index, e.NVocab)
}

func (e *TokenError) Unwrap() error {
	return ErrTokenOutOfRange
}
