/*
allocation.go - FIFO selection of units against a requested quantity

PURPOSE:
  Given a pool of candidate units and a required quantity, deterministically
  pick which physical sheets satisfy the request. Oldest lot first.

DETERMINISM:
  Matches are ordered ascending by CreatedAt (the lot timestamp). Units
  sharing an identical timestamp keep their enumeration order from the
  reader, which implementations guarantee to be insertion order. Repeated
  calls over identical state therefore return identical unit sets in
  identical order.

TRANSACTION SCOPE:
  The pool is read through a UnitReader, which in every engine operation is
  the store transaction handle itself. Availability is judged against the
  store's authoritative in-transaction state, never against a snapshot
  captured before the transaction began.

SEE ALSO:
  - engine.go: Every consuming operation funnels through SelectFIFO
  - store.go: UnitReader contract and enumeration-order guarantee
*/
package ledger

import "sort"

// SelectFIFO returns exactly quantity units matching pred, oldest lot
// first. If fewer than quantity units match, no partial result is
// returned: the error is an *InsufficientStockError carrying the requested
// quantity, the available count, and the stock key.
func SelectFIFO(r UnitReader, pred UnitPredicate, quantity int) ([]*InventoryUnit, error) {
	matches, err := r.UnitsWhere(pred)
	if err != nil {
		return nil, err
	}

	// Stable sort: equal timestamps keep reader enumeration order.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	if len(matches) < quantity {
		return nil, &InsufficientStockError{
			Key:       StockKey{MaterialType: pred.MaterialType, Length: pred.Length},
			Requested: quantity,
			Available: len(matches),
		}
	}
	return matches[:quantity], nil
}
