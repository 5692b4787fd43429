package domain

import "errors"

var (
	// ErrImageCountMismatch is returned when the number of uploaded photos
	// does not match the purchased package. No job is created.
	ErrImageCountMismatch = errors.New("image count does not match package")

	// ErrNoImages flags a job whose image set is empty.
	ErrNoImages = errors.New("job has no images")

	ErrUnknownPackage     = errors.New("unknown package")
	ErrUnknownServiceType = errors.New("unknown service type")
)
