package models

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
	// ChangeSynced follows the last record of a feed's initial snapshot.
	ChangeSynced ChangeType = "synced"
)

// ChangeEvent is one delivery from a record feed. Record is the full
// document for added and modified, nil otherwise.
type ChangeEvent struct {
	Type      ChangeType
	Category  Category
	RequestID ObjectID
	Record    *RequestRecord
}
