package api

import "github.com/hamicek/noex-rules-sub007/internal/apperr"

func badRequest(reason string) error {
	return apperr.NewValidationError("request", reason)
}
