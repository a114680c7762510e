package domain

// SaveRecordRequest is what the UI shell posts when an inspector finishes a
// point. Attribution (user, device) comes from the identity middleware, not
// the body. Photos are opaque: either remote object references or inline
// base64 for captures that have not been uploaded yet.
type SaveRecordRequest struct {
	InputMethod InputMethod  `json:"input_method" validate:"required,oneof=voice manual"`
	ItemResults []ItemResult `json:"item_results" validate:"required,min=1,dive"`
	Photos      []string     `json:"photos"`
}

type ResolveConflictRequest struct {
	// TombstoneIndex optionally soft-deletes one record as part of the
	// acknowledgement. Nil means keep every record and just mark it reviewed.
	TombstoneIndex *int `json:"tombstone_index"`
}
