package dto

import (
	"lotledger/internal/domain/alerts"
)

// AlertActionRequest acknowledges or resolves an alert.
type AlertActionRequest struct {
	Notes string `json:"notes"`
}

// AlertListResponse wraps an alert list.
type AlertListResponse struct {
	Items []*alerts.Alert `json:"items"`
}
