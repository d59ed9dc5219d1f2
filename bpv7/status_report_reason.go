// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

// StatusReportReason is the RFC 9171 bundle status report reason code. This
// agent never emits the administrative-record bundle status reports
// themselves (that hook is a no-op), but uses this same vocabulary
// internally to log why a bundle was deleted or could not be forwarded.
type StatusReportReason uint64

const (
	// NoAdditionalInformation is the default, uninformative reason code.
	NoAdditionalInformation StatusReportReason = 0

	// LifetimeExpired means the bundle's age or creation time exceeded its
	// lifetime.
	LifetimeExpired StatusReportReason = 1

	// ForwardedOverUnidirectionalLink means the bundle was handed to a
	// broadcast-style CLA, so the set of actual recipients is unknown.
	ForwardedOverUnidirectionalLink StatusReportReason = 2

	// TransmissionCanceled means a caller explicitly canceled the bundle's
	// transmission before it completed.
	TransmissionCanceled StatusReportReason = 3

	// DepletedStorage means the bundle was evicted (or never admitted) for
	// lack of store space.
	DepletedStorage StatusReportReason = 4

	// DestinationEndpointUnintelligible means the destination EID could not
	// be parsed or resolved.
	DestinationEndpointUnintelligible StatusReportReason = 5

	// NoKnownRouteToDestination means no CLA or neighbor can currently reach
	// the destination.
	NoKnownRouteToDestination StatusReportReason = 6

	// NoTimelyContactWithNextNode means a next hop is known but unreachable
	// right now.
	NoTimelyContactWithNextNode StatusReportReason = 7

	// BlockUnintelligible means a canonical block's data could not be
	// parsed.
	BlockUnintelligible StatusReportReason = 8

	// HopLimitExceeded means the Hop Count Block's count reached its limit.
	HopLimitExceeded StatusReportReason = 9

	// TrafficPared means a CLA rejected a send attempt, e.g. to shed load.
	TrafficPared StatusReportReason = 10

	// BlockUnsupported means an extension block of unknown type demanded
	// bundle deletion via its block control flags.
	BlockUnsupported StatusReportReason = 11
)

func (r StatusReportReason) String() string {
	switch r {
	case NoAdditionalInformation:
		return "No additional information"
	case LifetimeExpired:
		return "Lifetime expired"
	case ForwardedOverUnidirectionalLink:
		return "Forwarded over unidirectional link"
	case TransmissionCanceled:
		return "Transmission canceled"
	case DepletedStorage:
		return "Depleted storage"
	case DestinationEndpointUnintelligible:
		return "Destination endpoint ID unintelligible"
	case NoKnownRouteToDestination:
		return "No known route to destination from here"
	case NoTimelyContactWithNextNode:
		return "No timely contact with next node on route"
	case BlockUnintelligible:
		return "Block unintelligible"
	case HopLimitExceeded:
		return "Hop limit exceeded"
	case TrafficPared:
		return "Traffic pared"
	case BlockUnsupported:
		return "Block unsupported"
	default:
		return "Unknown reason code"
	}
}
