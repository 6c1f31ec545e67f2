package ir

// Version constants for the action format and the store.
const (
	// IRVersion is the action/trace schema version.
	IRVersion = "1"

	// StoreVersion is the slicestore version.
	StoreVersion = "0.1.0"
)
