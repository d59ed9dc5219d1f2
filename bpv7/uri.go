// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import "regexp"

// nodeURIRegexp matches a node's own URI: "dtn://node-name/" (trailing slash
// mandatory, no further path) or the bare ipn authority "ipn://23" /
// "ipn://23.42".
var nodeURIRegexp = regexp.MustCompile(`(^dtn://[^~/]+/$)|(^ipn://\d+(\.\d+)*$)`)

// endpointURIRegexp matches any endpoint URI a bundle may carry as its
// source, destination or report-to: the null endpoint "dtn://none", a dtn
// URI with an arbitrary demux path, or a fully qualified "ipn://node.service".
var endpointURIRegexp = regexp.MustCompile(`(^dtn://none$)|(^dtn://[^~/]+/([^~/]+/)*[^~/]+$)|(^ipn://\d+(\.\d+)+$)`)

// groupURIRegexp matches a dtn-scheme group (multicast) endpoint URI, whose
// last path segment starts with "~".
var groupURIRegexp = regexp.MustCompile(`^dtn://[^~/]+/([^~]+/)*~[^/]+$`)

// IsCorrectNodeURI reports whether uri is a valid full node URI, as used for
// a BPA's own node identity.
func IsCorrectNodeURI(uri string) bool {
	return nodeURIRegexp.MatchString(uri)
}

// IsCorrectEndpointURI reports whether uri is a valid endpoint URI, suitable
// for a bundle's source, destination, or report-to field.
//
// Every valid node URI is also a valid endpoint URI.
func IsCorrectEndpointURI(uri string) bool {
	return endpointURIRegexp.MatchString(uri) || IsCorrectNodeURI(uri)
}

// IsCorrectGroupURI reports whether uri is a valid dtn-scheme group endpoint
// URI.
func IsCorrectGroupURI(uri string) bool {
	return groupURIRegexp.MatchString(uri)
}
