package outlook

// PlatformStore returns the calendar item store for the current
// platform. The MAPI/COM bridge ships separately and registers itself
// via RegisterStore; without it, calendar sync is reported unavailable
// rather than failing at startup.
func PlatformStore() (ItemStore, error) {
	if registered != nil {
		return registered, nil
	}
	return nil, ErrStoreUnavailable
}

var registered ItemStore

// RegisterStore installs the transport-backed ItemStore used by
// PlatformStore. Called from the platform bridge's init.
func RegisterStore(s ItemStore) {
	registered = s
}
