package permission

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Descriptor names the permission a guard requires.
type Descriptor struct {
	CanonicalID  string   `json:"canonical_id" validate:"required_without=DisplayNames"`
	DisplayNames []string `json:"display_names,omitempty" validate:"omitempty,dive,required"`
}

// ErrInvalidDescriptor indicates a descriptor that can never match a record.
var ErrInvalidDescriptor = errors.New("permission: invalid descriptor")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func descriptorValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Describe builds a descriptor from a canonical id and its display names.
func Describe(canonicalID string, displayNames ...string) Descriptor {
	return Descriptor{CanonicalID: canonicalID, DisplayNames: displayNames}
}

// Validate checks that the descriptor carries an id or at least one name.
// Resolution never requires it; it guards catalogs and request input.
func (d Descriptor) Validate() error {
	if err := descriptorValidator().Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidDescriptor, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	// required_without treats an empty, non-nil name list as present.
	if d.CanonicalID == "" && len(d.DisplayNames) == 0 {
		return fmt.Errorf("%w: CanonicalID failed %q", ErrInvalidDescriptor, "required_without")
	}
	return nil
}

func (d Descriptor) String() string {
	if len(d.DisplayNames) > 0 {
		return d.DisplayNames[0]
	}
	return strings.TrimSpace(d.CanonicalID)
}
