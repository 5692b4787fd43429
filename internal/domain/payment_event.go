package domain

import (
	"errors"
	"fmt"
	"strings"
)

// PaymentEvent is the inbound "payment succeeded" trigger delivered by the
// payment gateway webhook. OrderID doubles as the idempotency key: the same
// event redelivered must not create a second job.
type PaymentEvent struct {
	OrderID     string      `json:"order_id"`
	Email       string      `json:"email"`
	PackageID   string      `json:"package_id"`
	ServiceType string      `json:"service_type"`
	Uploads     []UploadRef `json:"uploads"`
}

// UploadRef points at one staged photo already sitting in object storage.
type UploadRef struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

func (e PaymentEvent) Validate() error {
	if strings.TrimSpace(e.OrderID) == "" {
		return errors.New("order_id is required")
	}
	email := strings.TrimSpace(e.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email: %s", email)
	}
	if _, ok := PackageByID(e.PackageID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPackage, e.PackageID)
	}
	if !ValidServiceType(e.ServiceType) {
		return fmt.Errorf("%w: %s", ErrUnknownServiceType, e.ServiceType)
	}
	if len(e.Uploads) == 0 {
		return errors.New("uploads must contain at least one file")
	}
	for i, u := range e.Uploads {
		if strings.TrimSpace(u.Key) == "" {
			return fmt.Errorf("uploads[%d].key is required", i)
		}
		if strings.TrimSpace(u.Name) == "" {
			return fmt.Errorf("uploads[%d].name is required", i)
		}
	}
	return nil
}
