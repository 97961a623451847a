// Package request defines the block-request key shared by the scheduler and
// the outstanding-requests table.
package request

// BlockRequest identifies a contiguous sub-range of one piece: the unit of
// network request. Equality uses all three fields, so it is safe to use
// directly as a map key.
type BlockRequest struct {
	Piece  int
	Offset int64
	Length int64
}
