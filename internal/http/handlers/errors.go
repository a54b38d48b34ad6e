// Package handlers implements the read-only status API.
//
// Error responses carry a stable, machine-readable code next to the HTTP
// status:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_found",
//	  "message": "video not in ledger"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	ErrCodeInvalidStatus = "invalid_status"
	ErrCodeListFailed    = "list_failed"
	ErrCodeStatsFailed   = "stats_failed"
)
