package integration

import (
	"github.com/leadflow/backend/internal/domain/integration"
)

// TypeInfo describes one registered channel type
type TypeInfo struct {
	Type           integration.ChannelType `json:"type"`
	Name           string                  `json:"name"`
	RequiredFields []string                `json:"required_fields"`
	BatchSupported bool                    `json:"batch_supported"`
}

// ResultDTO is the wire form of an integration result
type ResultDTO struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	ExternalID *string        `json:"external_id"`
	Data       map[string]any `json:"data"`
	HTTPCode   *int           `json:"http_code"`
	ErrorType  string         `json:"error_type,omitempty"`
}

// ToResultDTO converts a domain result
func ToResultDTO(r *integration.Result) ResultDTO {
	dto := ResultDTO{
		Success:   r.IsSuccess(),
		Message:   r.Message(),
		Data:      r.Data(),
		ErrorType: string(r.Kind()),
	}
	if id, ok := r.ExternalID(); ok {
		dto.ExternalID = &id
	}
	if code, ok := r.HTTPCode(); ok {
		dto.HTTPCode = &code
	}
	return dto
}
