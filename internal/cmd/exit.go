package cmd

import (
	apperrors "github.com/3leaps/snakerun/internal/errors"
)

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &apperrors.CodedError{Code: code, Message: message, Err: err}
}
