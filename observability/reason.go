package observability

import (
	"errors"

	"github.com/xraph/courier"
	"github.com/xraph/courier/publisher"
)

// rejectionReason maps a submit rejection to a low-cardinality label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, courier.ErrDuplicateContent):
		return "duplicate"
	case errors.Is(err, courier.ErrQuotaExceeded):
		return "quota"
	default:
		return "other"
	}
}

// failureClass labels a terminal failure: an admission reason or the
// publish error class.
func failureClass(err error) string {
	if err == nil {
		return "unknown"
	}
	if r := rejectionReason(err); r != "other" {
		return r
	}
	return string(publisher.Classify(err).Class)
}
