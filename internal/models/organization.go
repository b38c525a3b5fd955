package models

import (
	"errors"
	"fmt"
	"regexp"
)

// organizationNamePattern accepts lowercase alphanumeric words joined by
// single underscores, e.g. "acme" or "acme_labs_2".
var organizationNamePattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

// ErrInvalidOrganizationName is returned for names that do not match
// organizationNamePattern.
var ErrInvalidOrganizationName = errors.New("invalid organization name")

// ValidateOrganizationName checks that name can be used as an organization
// scope for stored records.
func ValidateOrganizationName(name string) error {
	if !organizationNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must contain only lowercase letters, digits and single underscores between words",
			ErrInvalidOrganizationName, name)
	}
	return nil
}
