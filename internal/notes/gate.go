package notes

// admitVersion applies the staleness gate for updates. The policy is
// last-writer-wins with detection: a client that observed the current server
// version (or claims a later one) is admitted; anything older is stale and
// must be surfaced as a conflict carrying the authoritative snapshot, never
// silently overwritten. Creates are ungated, and deletes intentionally skip
// this check because soft-delete is idempotent toward any version.
func admitVersion(stored *Note, clientVersion int64) bool {
	if stored == nil {
		return true
	}
	return clientVersion >= stored.Version
}

// initialVersion picks the version a brand-new note starts at. Clients
// retrying a create with a pre-assigned identity may suggest a version; any
// suggestion below 1 collapses to 1.
func initialVersion(clientVersion int64) int64 {
	if clientVersion > 1 {
		return clientVersion
	}
	return 1
}
