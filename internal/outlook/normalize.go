package outlook

import (
	"fmt"

	"github.com/notisync/notisync/internal/model"
	"github.com/notisync/notisync/internal/recur"
)

// normalizeItem converts a single (non-expanded) item into a canonical
// event keyed by the item's own id.
func normalizeItem(it Item) model.Event {
	return model.Event{
		ID:           it.ID,
		Subject:      it.Subject,
		Start:        it.Start,
		End:          it.End,
		Location:     it.Location,
		Project:      it.Categories,
		Organizer:    it.Organizer,
		Body:         it.Body,
		LastModified: it.LastModified,
	}
}

// normalizeOccurrence converts one occurrence of a recurring item into a
// canonical event. The id gains the occurrence-index suffix, which is
// deterministic for a given series and window walk, so re-syncs map the
// occurrence back to the sink page created for it.
func normalizeOccurrence(it Item, occ recur.Occurrence) model.Event {
	ev := normalizeItem(it)
	ev.ID = occurrenceID(it.Series.ID, occ.Index)
	ev.Start = occ.Start
	ev.End = occ.End
	ev.LastModified = occ.LastModified
	return ev
}

// normalizeTombstone converts a deleted occurrence into a canonical
// event carrying the occurrence id and the slot the instance would have
// occupied. The end is reconstructed from the series' instance duration.
func normalizeTombstone(it Item, ts recur.Tombstone) model.Event {
	ev := normalizeItem(it)
	ev.ID = occurrenceID(it.Series.ID, ts.Index)
	ev.Start = ts.Date
	ev.End = ts.Date.Add(it.Series.Duration)
	return ev
}

func occurrenceID(seriesID string, index int) string {
	return fmt.Sprintf("%s_%d", seriesID, index)
}
