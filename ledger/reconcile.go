// reconcile.go - Per-key deltas for editing a completed consumption record.
//
// NetChanges is a pure function with no store access. It is used only by
// the Completed branch of EditOutgoingLog.

package ledger

// NetChanges computes, per stock key, the signed delta between what a
// record originally consumed and what a revised request asks for:
//
//	netChange = count(originalDetails at key) - requested(newItems at key)
//
// Negative means more units are now required than were originally
// consumed; positive means that many units come back on hand. Keys absent
// from both sides are absent from the result.
func NetChanges(originalDetails []UnitSnapshot, newItems []LineItem) map[StockKey]int {
	net := make(map[StockKey]int)
	for _, d := range originalDetails {
		net[d.Key()]++
	}
	for key, qty := range requiredByKey(newItems) {
		net[key] -= qty
	}
	return net
}
