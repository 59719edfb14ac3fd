package errors

// Sentinel errors for the detection pipeline. Callers wrap these with New(...).Build()
// or fmt.Errorf("...: %w", Err...) and test for them with Is.
var (
	// ErrMissingInput is returned when a submission has no file attached.
	ErrMissingInput = NewStd("no input file attached")

	// ErrInvalidRange is returned when a numeric parameter is outside its declared bounds.
	ErrInvalidRange = NewStd("value out of range")

	// ErrTransport covers network failures, non-2xx responses and unreadable bodies.
	ErrTransport = NewStd("detection service request failed")

	// ErrCorruptArchive is returned when bytes cannot be parsed as an archive container.
	ErrCorruptArchive = NewStd("corrupt archive")

	// ErrEntryNotFound is returned by archive lookups for names that are not present.
	ErrEntryNotFound = NewStd("archive entry not found")

	// ErrEntryTooLarge is returned when an entry exceeds the configured size cap.
	ErrEntryTooLarge = NewStd("archive entry too large")

	// ErrMissingExpectedEntry is returned when a valid archive lacks the media entry.
	ErrMissingExpectedEntry = NewStd("expected media entry missing from archive")

	// ErrBusy is returned when a submission is attempted while one of the same kind is in flight.
	ErrBusy = NewStd("detection already in progress")

	// ErrHandleNotFound is returned when resolving an unknown or revoked resource handle.
	ErrHandleNotFound = NewStd("resource handle not found")
)

// sentinelCategory maps a taxonomy sentinel to its category.
func sentinelCategory(err error) (ErrorCategory, bool) {
	switch {
	case Is(err, ErrMissingInput):
		return CategoryInput, true
	case Is(err, ErrInvalidRange):
		return CategoryRange, true
	case Is(err, ErrTransport):
		return CategoryNetwork, true
	case Is(err, ErrCorruptArchive), Is(err, ErrEntryTooLarge):
		return CategoryArchive, true
	case Is(err, ErrMissingExpectedEntry):
		return CategoryPayload, true
	case Is(err, ErrBusy):
		return CategoryState, true
	case Is(err, ErrEntryNotFound), Is(err, ErrHandleNotFound):
		return CategoryNotFound, true
	}
	return "", false
}

// UserMessage returns a short, user-facing notification for err.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrMissingInput):
		return "Please upload a file first"
	case Is(err, ErrInvalidRange):
		return "A detection parameter is out of range"
	case Is(err, ErrBusy):
		return "A detection is already running, please wait"
	case Is(err, ErrMissingExpectedEntry):
		return "Processed media missing in response"
	case Is(err, ErrCorruptArchive), Is(err, ErrEntryTooLarge):
		return "The detection service returned an unreadable archive"
	case Is(err, ErrTransport):
		return "Error contacting the detection service"
	case IsCategory(err, CategoryValidation):
		return "Invalid detection request: " + err.Error()
	default:
		return "Error processing detection"
	}
}

// IsUserError reports whether err was caused by the submitted request rather than
// by the service or the pipeline.
func IsUserError(err error) bool {
	return Is(err, ErrMissingInput) || Is(err, ErrInvalidRange) ||
		IsCategory(err, CategoryValidation) || IsCategory(err, CategoryInput) ||
		IsCategory(err, CategoryRange)
}
