package imei

import "errors"

// ErrInvalid is returned for any identifier that is not exactly 15 or 17
// ASCII digits. Validation happens at the boundary; the lifecycle never
// sees a malformed IMEI.
var ErrInvalid = errors.New("imei: must be 15 or 17 digits")

// Validate checks the IMEI format contract.
func Validate(s string) error {
	if len(s) != 15 && len(s) != 17 {
		return ErrInvalid
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return ErrInvalid
		}
	}
	return nil
}

// Valid reports whether s is a well-formed IMEI or serial identifier.
func Valid(s string) bool {
	return Validate(s) == nil
}
