// Package model holds the domain objects exchanged between the picker
// client, the repicker service and the relocator service.
package model

import (
	"fmt"
	"strings"
	"time"
)

// RefinedSuffix marks the identity of a pick produced by refinement.
// A refined pick's ID is always its parent's ID plus this suffix.
const RefinedSuffix = "/repick"

// RefinedMethodID is the method identifier written into every pick
// created from a refinement result.
const RefinedMethodID = "DL"

// StreamID identifies a seismic data stream. The channel code may be a
// two-character band/instrument code ("BH") or a full three-character
// code ("BHZ") depending on context.
type StreamID struct {
	Network  string `json:"networkCode"`
	Station  string `json:"stationCode"`
	Location string `json:"locationCode"`
	Channel  string `json:"channelCode"`
}

func (s StreamID) String() string {
	return fmt.Sprintf("%s.%s.%s.%s", s.Network, s.Station, s.Location, s.Channel)
}

// Band returns the stream ID reduced to the two-character channel band,
// the key under which the three components of a station are grouped.
func (s StreamID) Band() StreamID {
	b := s
	if len(b.Channel) > 2 {
		b.Channel = b.Channel[:2]
	}
	return b
}

// Site is the network.station key used for duplicate suppression.
func (s StreamID) Site() string {
	return s.Network + "." + s.Station
}

// EvaluationMode distinguishes automatic from manually reviewed objects.
type EvaluationMode string

const (
	ModeAutomatic EvaluationMode = "automatic"
	ModeManual    EvaluationMode = "manual"
)

// Pick is a single station's estimated arrival time of a seismic phase.
// Picks are immutable once created. A predicted pick is synthesized from
// a hypocenter and a travel-time table for a station that has no
// measured pick yet; its ID is derived deterministically from time and
// stream so repeated synthesis cannot create duplicates.
type Pick struct {
	ID        string         `json:"publicID"`
	Stream    StreamID       `json:"stream"`
	Time      time.Time      `json:"time"`
	PhaseHint string         `json:"phaseHint,omitempty"`
	Mode      EvaluationMode `json:"evaluationMode,omitempty"`
	Author    string         `json:"author,omitempty"`
	AgencyID  string         `json:"agencyID,omitempty"`
	MethodID  string         `json:"methodID,omitempty"`
	Predicted bool           `json:"predicted,omitempty"`

	// Confidence is set only on picks that originate from a
	// refinement result. nil means "not assessed", not zero.
	Confidence *float64 `json:"confidence,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Manual reports whether the pick was manually reviewed.
func (p Pick) Manual() bool { return p.Mode == ModeManual }

// Refined reports whether the pick is itself a refinement product and
// must therefore never be resubmitted for refinement.
func (p Pick) Refined() bool {
	return strings.HasSuffix(p.ID, RefinedSuffix) || p.MethodID == RefinedMethodID
}

// PredictedPickID derives the deterministic identity of a predicted
// pick from its theoretical arrival time and stream codes.
func PredictedPickID(t time.Time, s StreamID) string {
	stamp := t.UTC().Format("20060102.150405.00")
	return fmt.Sprintf("%s-PRE-%s.%s.%s.%s", stamp, s.Network, s.Station, s.Location, s.Channel)
}

// RefinedPick is the refinement of exactly one parent pick: a new
// arrival time with a confidence score. Several refined picks may exist
// for the same parent when the refiner reports multiple confidence
// peaks.
type RefinedPick struct {
	ParentID   string    `json:"publicID"`
	Stream     StreamID  `json:"stream"`
	Time       time.Time `json:"time"`
	Confidence float64   `json:"confidence"`
	ModelName  string    `json:"model"`
}

// ID returns the identity of the refined pick, derived from the parent.
func (r RefinedPick) ID() string { return r.ParentID + RefinedSuffix }

// Depth is a hypocenter depth in kilometres. Uncertainty is nil when
// the locator did not determine one, which is the case whenever the
// depth was held fixed.
type Depth struct {
	ValueKm       float64  `json:"value"`
	Fixed         bool     `json:"fixed,omitempty"`
	UncertaintyKm *float64 `json:"uncertainty,omitempty"`
}

// DepthType records how the final depth of an origin was obtained.
type DepthType string

const (
	DepthFromLocation     DepthType = "from location"
	DepthOperatorAssigned DepthType = "operator assigned"
)

// Arrival binds one pick to an origin. Weight and Used control whether
// the pick contributes to a location; residual and distance are filled
// in by the locator.
type Arrival struct {
	PickID      string  `json:"pickID"`
	Phase       string  `json:"phase"`
	Used        bool    `json:"timeUsed"`
	Weight      float64 `json:"weight"`
	ResidualSec float64 `json:"timeResidual,omitempty"`
	DistanceDeg float64 `json:"distance,omitempty"`
	AzimuthDeg  float64 `json:"azimuth,omitempty"`
}

// Origin is a hypocenter candidate with its arrival set. Origins are
// immutable once published; the relocation engine operates on private
// copies until a final candidate is accepted.
type Origin struct {
	ID        string         `json:"publicID"`
	Time      time.Time      `json:"time"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Depth     Depth          `json:"depth"`
	DepthType DepthType      `json:"depthType,omitempty"`
	Arrivals  []Arrival      `json:"arrivals,omitempty"`
	Mode      EvaluationMode `json:"evaluationMode,omitempty"`
	Author    string         `json:"author,omitempty"`
	AgencyID  string         `json:"agencyID,omitempty"`

	// StandardError is the residual RMS in seconds, nil when the
	// locator did not report one.
	StandardError *float64 `json:"standardError,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Manual reports whether the origin was manually reviewed.
func (o Origin) Manual() bool { return o.Mode == ModeManual }

// UsedArrivalCount counts arrivals that contribute to the location.
func (o Origin) UsedArrivalCount() int {
	n := 0
	for _, a := range o.Arrivals {
		if a.Used && a.Weight > 0 {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the origin, for private relocation work.
func (o Origin) Clone() Origin {
	c := o
	c.Arrivals = make([]Arrival, len(o.Arrivals))
	copy(c.Arrivals, o.Arrivals)
	if o.StandardError != nil {
		v := *o.StandardError
		c.StandardError = &v
	}
	if o.Depth.UncertaintyKm != nil {
		v := *o.Depth.UncertaintyKm
		c.Depth.UncertaintyKm = &v
	}
	return c
}

// Event is the catalog event envelope referencing its preferred origin.
type Event struct {
	ID                   string `json:"publicID"`
	PreferredOriginID    string `json:"preferredOriginID"`
	PreferredMagnitudeID string `json:"preferredMagnitudeID,omitempty"`
}

// Float64Ptr is a small helper for optional numeric fields.
func Float64Ptr(v float64) *float64 { return &v }
