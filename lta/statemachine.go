package lta

import "fmt"

// bundleGraph encodes §4.9's state machine. Keys are legal "from" states;
// values are the set of legal "to" states. Quarantine is reachable from any
// non-terminal state and is handled separately since it is not keyed on the
// *next* status alone — it also records original_status.
var bundleGraph = map[BundleStatus][]BundleStatus{
	BundleSpecified:    {BundleCreated},
	BundleCreated:      {BundleTransferring},
	BundleTransferring: {BundleTaping},
	BundleTaping:       {BundleCompleted},
	BundleCompleted:    {BundleDeleted},
	BundleLocated:      {BundleTransferring},
}

var trGraph = map[TransferRequestStatus][]TransferRequestStatus{
	TRStatusEthereal: {TRStatusSpecified},
}

// ValidBundleTransition reports whether from -> to is a legal edge in §4.9's
// graph, treating quarantine as always legal from any non-terminal state and
// an operator reset (quarantined -> original) as always legal.
func ValidBundleTransition(from, to BundleStatus) error {
	if from == to {
		return fmt.Errorf("no-op transition %s -> %s", from, to)
	}
	if to == BundleQuarantined {
		if from == BundleDeleted {
			return fmt.Errorf("illegal transition: %s is terminal", from)
		}
		return nil
	}
	if from == BundleQuarantined {
		// operator reset: any destination is accepted, caller supplies
		// original_status as the destination.
		return nil
	}
	for _, next := range bundleGraph[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("illegal bundle transition: %s -> %s", from, to)
}

func ValidTransferRequestTransition(from, to TransferRequestStatus) error {
	if from == to {
		return fmt.Errorf("no-op transition %s -> %s", from, to)
	}
	if to == TRStatusQuarantined {
		return nil
	}
	if from == TRStatusQuarantined {
		return nil
	}
	for _, next := range trGraph[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("illegal transfer request transition: %s -> %s", from, to)
}
