package reconcile

import "github.com/rotisserie/eris"

var (
	// ErrCorruptPriorSnapshot means the previous day's snapshot cannot be
	// trusted for carry-forward. The whole reconciliation fails.
	ErrCorruptPriorSnapshot = eris.New("reconcile: corrupt prior snapshot")
)
