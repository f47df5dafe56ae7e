// Package proximity decides whether a check-in's beacon claim is physically
// plausible. Validators are pure: the same claim and session beacon always
// produce the same Decision.
package proximity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonOK           Reason = "ok"
	ReasonUUIDMismatch Reason = "uuid_mismatch"
	ReasonTooFar       Reason = "too_far"
)

// Method records how a student was checked in.
type Method string

const (
	MethodBeaconScan  Method = "beacon_scan"
	MethodManualEntry Method = "manual_entry"
)

// DefaultMaxDistance is the accepted beacon range in meters.
const DefaultMaxDistance = 5.0

// Claim is what the student app reports alongside a check-in.
type Claim struct {
	BeaconUUID string
	Distance   *float64 // meters
	RSSI       *int     // dBm
}

// Decision is the validator's verdict. Distance is the measured or
// estimated range that was accepted, nil for manual entry.
type Decision struct {
	Accepted bool
	Reason   Reason
	Method   Method
	Distance *float64
}

// Validator checks a claim against the session's beacon UUID.
type Validator interface {
	Validate(claim Claim, sessionBeacon string) Decision
}

// TrustedClaim takes the client's distance at face value.
type TrustedClaim struct {
	MaxDistance float64
}

func (v TrustedClaim) Validate(claim Claim, sessionBeacon string) Decision {
	method := MethodManualEntry
	if claim.Distance != nil {
		method = MethodBeaconScan
	}
	if !SameBeacon(claim.BeaconUUID, sessionBeacon) {
		return Decision{Reason: ReasonUUIDMismatch, Method: method}
	}
	if claim.Distance == nil {
		return Decision{Accepted: true, Reason: ReasonOK, Method: MethodManualEntry}
	}
	maxDistance := v.MaxDistance
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}
	if *claim.Distance > maxDistance {
		return Decision{Reason: ReasonTooFar, Method: MethodBeaconScan}
	}
	d := *claim.Distance
	return Decision{Accepted: true, Reason: ReasonOK, Method: MethodBeaconScan, Distance: &d}
}

// SameBeacon reports whether a and b parse to the same 128-bit UUID. Any
// form uuid.Parse accepts matches; an unparseable side never does.
func SameBeacon(a, b string) bool {
	ua, err := uuid.Parse(strings.TrimSpace(a))
	if err != nil {
		return false
	}
	ub, err := uuid.Parse(strings.TrimSpace(b))
	if err != nil {
		return false
	}
	return ua == ub
}

// ParseBeaconUUID accepts only the hyphenated 36-character RFC 4122 form
// and returns it upper-cased.
func ParseBeaconUUID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) != 36 {
		return "", fmt.Errorf("beacon_uuid %q is not a canonical UUID", s)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("beacon_uuid %q is not a canonical UUID: %w", s, err)
	}
	return strings.ToUpper(u.String()), nil
}
