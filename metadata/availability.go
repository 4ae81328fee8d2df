package metadata

import "fmt"

// ToBeDeprecated is the deprecation version recorded for
// API_TO_BE_DEPRECATED annotations.
const ToBeDeprecated = 100000

// EncodeVersion encodes an OS version the way the MAC_OS_X_VERSION_*
// constants do: 10.8 is 1008 while 10.9 is 100900 and 11.0 is 110000.
func EncodeVersion(major, minor, patch int) int {
	if major < 10 || (major == 10 && minor < 9) {
		return major*100 + minor
	}
	return major*10000 + minor*100 + patch
}

// DecodeVersion reverses EncodeVersion.
func DecodeVersion(v int) (major, minor, patch int) {
	if v < 10000 {
		return v / 100, v % 100, 0
	}
	return v / 10000, v / 100 % 100, v % 100
}

// FormatVersion renders an encoded version as "10.13" or "10.13.4".
func FormatVersion(v int) string {
	if v == ToBeDeprecated {
		return "(to be deprecated)"
	}
	major, minor, patch := DecodeVersion(v)
	if patch != 0 {
		return fmt.Sprintf("%d.%d.%d", major, minor, patch)
	}
	return fmt.Sprintf("%d.%d", major, minor)
}

type AvailabilityInfo struct {
	Unavailable       *bool   `json:"unavailable"`
	Suggestion        *string `json:"suggestion"`
	Introduced        *int    `json:"introduced"`
	Deprecated        *int    `json:"deprecated"`
	DeprecatedMessage *string `json:"deprecated_message"`
}

func (a *AvailabilityInfo) IsZero() bool {
	return a == nil || (a.Unavailable == nil && a.Suggestion == nil && a.Introduced == nil &&
		a.Deprecated == nil && a.DeprecatedMessage == nil)
}

func (a *AvailabilityInfo) IsDeprecated() bool {
	return a != nil && a.Deprecated != nil
}

func (a *AvailabilityInfo) IsUnavailable() bool {
	return a != nil && a.Unavailable != nil && *a.Unavailable
}

// Ptr returns a pointer to v, for filling optional fields.
func Ptr[T any](v T) *T {
	return &v
}
