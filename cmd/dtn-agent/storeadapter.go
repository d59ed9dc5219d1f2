// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"

	"github.com/dtn7/dtn7-agent/store"
)

// httpPeerStore adapts store.Store to the small read-only bundle index
// cla/httppeer's server side needs to answer GET /bundles and GET
// /download. Only bundles currently delayed in the store (awaiting a
// forwarding retry) are offered; bundles the agent has already forwarded or
// delivered are gone from the store, same as they would be for any other
// CLA.
type httpPeerStore struct {
	st *store.Store
}

func (a *httpPeerStore) KnownBundleIDs() []string {
	items := a.st.BundlesToRetry()
	ids := make([]string, 0, len(items))
	for _, bi := range items {
		ids = append(ids, bi.ID().String())
	}
	return ids
}

func (a *httpPeerStore) LoadBundle(id string) ([]byte, bool) {
	for _, bi := range a.st.BundlesToRetry() {
		if bi.ID().String() != id {
			continue
		}
		buf := new(bytes.Buffer)
		if err := bi.Bundle.WriteBundle(buf); err != nil {
			return nil, false
		}
		return buf.Bytes(), true
	}
	return nil, false
}
