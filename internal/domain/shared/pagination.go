package shared

// Page size bounds for list endpoints
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest is a 1-based page of a listing
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize clamps the page to 1.. and the size to 1..MaxPageSize, using
// DefaultPageSize when none was given.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.PageSize < 1:
		p.PageSize = DefaultPageSize
	case p.PageSize > MaxPageSize:
		p.PageSize = MaxPageSize
	}
	return p
}

// Pages returns how many pages of this size hold total rows.
func (p PageRequest) Pages(total int64) int {
	if p.PageSize < 1 || total <= 0 {
		return 0
	}
	size := int64(p.PageSize)
	return int((total + size - 1) / size)
}
