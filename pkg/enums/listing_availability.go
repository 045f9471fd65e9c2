package enums

import "fmt"

// ListingAvailability tracks whether a single-unit listing can still be bought.
type ListingAvailability string

const (
	ListingAvailable ListingAvailability = "available"
	ListingPending   ListingAvailability = "pending"
	ListingSold      ListingAvailability = "sold"
	ListingDelisted  ListingAvailability = "delisted"
)

var validListingAvailabilities = []ListingAvailability{
	ListingAvailable,
	ListingPending,
	ListingSold,
	ListingDelisted,
}

// String implements fmt.Stringer.
func (a ListingAvailability) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ListingAvailability.
func (a ListingAvailability) IsValid() bool {
	for _, candidate := range validListingAvailabilities {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseListingAvailability converts raw input into a ListingAvailability.
func ParseListingAvailability(value string) (ListingAvailability, error) {
	for _, candidate := range validListingAvailabilities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid listing availability %q", value)
}
