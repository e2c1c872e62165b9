package engine

import (
	"github.com/rs/zerolog/log"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/query"
	"github.com/sublite/sublite/telemetry"
)

// dispatchLocked routes one committed notification to every subscriber on
// the table. The caller holds the table's shared section, so the subscriber
// set cannot change mid-pass. Returns the ids whose channel refused
// delivery; the caller prunes them once the section is released.
func dispatchLocked(t *tableSubscriptions, n change.Notification) []string {
	var failed []string

	for _, sub := range t.subs {
		out, synthesized := route(sub.condition, n)
		if out == nil {
			continue
		}
		if err := sub.channel.Send(out); err != nil {
			log.Debug().Err(err).
				Str("table", n.Table()).
				Str("subscription", sub.id).
				Msg("Dropping dead subscription")
			telemetry.DeliveryFailuresTotal.Inc()
			failed = append(failed, sub.id)
			continue
		}
		if synthesized {
			telemetry.SynthesizedDeletesTotal.Inc()
		}
		telemetry.DeliveriesTotal.With(deliveryType(out)).Inc()
	}
	return failed
}

// route decides what one subscriber hears about n: the notification itself,
// a personalized copy, a synthesized delete or nothing. The second return
// reports the update-to-delete rewrite.
func route(condition query.Condition, n change.Notification) (change.Notification, bool) {
	switch v := n.(type) {
	case *change.Created:
		if query.Matches(condition, v.Data) {
			return v, false
		}
		return nil, false
	case *change.CreatedMany:
		if condition == nil {
			return v, false
		}
		matched := filterRows(condition, v.Data)
		if len(matched) == 0 {
			return nil, false
		}
		return &change.CreatedMany{TableName: v.TableName, Data: matched}, false
	case *change.Updated:
		if query.Matches(condition, v.Data) {
			return v, false
		}
		// The row moved outside this subscriber's condition. From where
		// they sit, it was deleted.
		return &change.Deleted{TableName: v.TableName, ID: v.ID}, true
	case *change.Deleted:
		// Deletes carry no row to match against; every subscriber hears them.
		return v, false
	default:
		return nil, false
	}
}

func filterRows(condition query.Condition, rows []query.Row) []query.Row {
	var matched []query.Row
	for _, row := range rows {
		if query.Matches(condition, row) {
			matched = append(matched, row)
		}
	}
	return matched
}

func deliveryType(n change.Notification) string {
	switch n.(type) {
	case *change.Created:
		return change.TypeCreate
	case *change.CreatedMany:
		return change.TypeCreateMany
	case *change.Updated:
		return change.TypeUpdate
	default:
		return change.TypeDelete
	}
}

func operationType(op change.Operation) string {
	switch op.(type) {
	case *change.Create:
		return change.TypeCreate
	case *change.CreateMany:
		return change.TypeCreateMany
	case *change.Update:
		return change.TypeUpdate
	default:
		return change.TypeDelete
	}
}
