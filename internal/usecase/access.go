package usecase

import (
	"context"
	"fmt"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
)

// LoadForCaller returns the record if the caller may take part in its
// conversation: staff may see every record, requesters only their own.
func LoadForCaller(ctx context.Context, records RecordStore, caller models.Identity, category models.Category, id models.ObjectID) (*models.RequestRecord, error) {
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: unknown category %q", models.ErrValidation, category)
	}
	record, err := records.Get(ctx, category, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsStaff() && record.Requester.UserID != caller.UserID {
		return nil, fmt.Errorf("%w: request %s belongs to another requester", models.ErrForbidden, id)
	}
	return record, nil
}
