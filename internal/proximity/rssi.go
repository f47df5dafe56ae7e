package proximity

import "math"

// RSSIRanging estimates distance from signal strength when the scanner
// reports an RSSI but no distance, then applies the distance limit.
//
// The estimate uses the log-distance path-loss model
// d = 10^((TxPower - RSSI) / (10 * PathLossExponent)), where TxPower is the
// calibrated RSSI at one meter. Readings weaker than MinRSSI are rejected
// outright as too far.
type RSSIRanging struct {
	TxPower          int
	PathLossExponent float64
	MinRSSI          int
	Limit            TrustedClaim
}

func (r RSSIRanging) Validate(claim Claim, sessionBeacon string) Decision {
	if claim.Distance != nil || claim.RSSI == nil {
		return r.Limit.Validate(claim, sessionBeacon)
	}
	if !SameBeacon(claim.BeaconUUID, sessionBeacon) {
		return Decision{Reason: ReasonUUIDMismatch, Method: MethodBeaconScan}
	}
	if *claim.RSSI < r.MinRSSI {
		return Decision{Reason: ReasonTooFar, Method: MethodBeaconScan}
	}
	d := r.EstimateDistance(*claim.RSSI)
	claim.Distance = &d
	return r.Limit.Validate(claim, sessionBeacon)
}

// EstimateDistance converts an RSSI reading to meters, rounded to centimeters.
func (r RSSIRanging) EstimateDistance(rssi int) float64 {
	n := r.PathLossExponent
	if n <= 0 {
		n = 2
	}
	d := math.Pow(10, float64(r.TxPower-rssi)/(10*n))
	return math.Round(d*100) / 100
}
