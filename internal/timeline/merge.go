package timeline

import (
	"sort"
)

// MergeMessages merges a previous message snapshot with a newly polled one.
// For ids present in both, the new record wins except for one field: a media
// URL the previous record already resolved is never lost. Enrichment is
// monotonic, but a poll can race ahead of the mirroring job and momentarily
// return a record without the URL the UI already showed.
func MergeMessages(prev, next []Message) []Message {
	byID := make(map[string]*Message, len(prev))
	for i := range prev {
		byID[prev[i].ID] = &prev[i]
	}

	merged := make([]Message, 0, len(next))
	for _, msg := range next {
		if old, ok := byID[msg.ID]; ok {
			if old.Media.Resolved() && !msg.Media.Resolved() {
				if msg.Media == nil {
					media := *old.Media
					msg.Media = &media
				} else {
					msg.Media.DirectURL = old.Media.DirectURL
					if !msg.Media.HasStorageRef() {
						msg.Media.Bucket = old.Media.Bucket
						msg.Media.Path = old.Media.Path
					}
				}
			}
		}
		merged = append(merged, msg)
	}
	return merged
}

// BuildTimeline produces the ordered union of the message and event sources.
// Ordering is ascending createdAt only; ties keep stable input order with
// messages before events. Ids are opaque and never compared.
func BuildTimeline(messages []Message, events []Event) []Item {
	items := make([]Item, 0, len(messages)+len(events))
	for i := range messages {
		items = append(items, Item{Kind: ItemMessage, Message: &messages[i]})
	}
	for i := range events {
		items = append(items, Item{Kind: ItemEvent, Event: &events[i]})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt().Before(items[j].CreatedAt())
	})
	return items
}

// anyEnrichmentPending reports whether any message still waits on mirroring.
func anyEnrichmentPending(messages []Message) bool {
	for i := range messages {
		if messages[i].EnrichmentPending() {
			return true
		}
	}
	return false
}

// dropConfirmedLocals removes optimistic local inserts that the server
// snapshot now covers, matched by provider message id. Unconfirmed pending
// and failed locals stay visible until they resolve or the operator retries.
func dropConfirmedLocals(locals []Message, snapshot []Message) []Message {
	if len(locals) == 0 {
		return locals
	}
	confirmed := make(map[int64]bool, len(snapshot))
	for i := range snapshot {
		if snapshot[i].ProviderMessageID != 0 {
			confirmed[snapshot[i].ProviderMessageID] = true
		}
	}
	kept := locals[:0]
	for _, msg := range locals {
		if msg.ProviderMessageID != 0 && confirmed[msg.ProviderMessageID] {
			continue
		}
		kept = append(kept, msg)
	}
	return kept
}
