// Package detector defines the match record returned by the external
// fingerprint matcher and an HTTP client for it.
package detector

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Type is the kind of action a tune carries.
type Type string

// Match types understood by downstream consumers.
const (
	TypeCoupon   Type = "coupon"
	TypeOpenPage Type = "open_page"
	TypePhone    Type = "phone"
	TypePoll     Type = "poll"
	TypeSMS      Type = "sms"
	TypeSavePage Type = "save_page"
)

// IsValid returns true if the type is one of the known match types.
func (t Type) IsValid() bool {
	switch t {
	case TypeCoupon, TypeOpenPage, TypePhone, TypePoll, TypeSMS, TypeSavePage:
		return true
	default:
		return false
	}
}

// Match is one tune found in a segment. Time is the offset, in seconds,
// of the tune inside the submitted file.
type Match struct {
	ID              int     `json:"id" validate:"gte=0"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Type            Type    `json:"type" validate:"required,oneof=coupon open_page phone poll sms save_page"`
	Info            string  `json:"info"`
	MatchPercentage float64 `json:"matchPercentage" validate:"gte=0,lte=100"`
	Time            float64 `json:"time" validate:"gte=0"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func matchValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the match against its field rules.
func (m Match) Validate() error {
	if err := matchValidator().Struct(m); err != nil {
		return fmt.Errorf("detector: invalid match %d: %w", m.ID, err)
	}
	return nil
}
