package thread

import "sort"

// isCacheValidLocked reports whether a message's cache marker still covers
// its text: any edit inside the message since the marker was taken spoils
// it.
func (t *Thread) isCacheValidLocked(metadata MessageMetadata, offsetRange Range) bool {
	if metadata.Cache == nil {
		return false
	}
	return !t.buffer.HasEditsSince(metadata.Cache.CachedAt, offsetRange.Start, offsetRange.End)
}

// MarkCacheAnchors recomputes which messages carry cache anchors and updates
// every message's cache marker. The longest user messages are chosen, capped
// by the configured anchor budget; one anchor is always held back. During a
// speculative pass (when speculation is enabled) the last message is
// excluded, since it is still being written. Returns true when a chosen
// anchor has an invalidated cache and therefore needs to be written upstream
// again.
func (t *Thread) MarkCacheAnchors(speculative bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	messages := t.messagesLocked()

	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	if speculative && t.cacheConfig.ShouldSpeculate && len(sorted) > 0 {
		sorted = sorted[:len(sorted)-1]
	}
	n := 0
	for _, m := range sorted {
		if m.Role == RoleUser {
			sorted[n] = m
			n++
		}
	}
	sorted = sorted[:n]
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OffsetRange.Len() > sorted[j].OffsetRange.Len()
	})

	cacheAnchors := 0
	if t.tokenCount >= t.cacheConfig.MinTotalTokens {
		cacheAnchors = t.cacheConfig.MaxCacheAnchors
		if cacheAnchors < 1 {
			cacheAnchors = 1
		}
		cacheAnchors--
	}
	if len(sorted) > cacheAnchors {
		sorted = sorted[:cacheAnchors]
	}

	anchors := make(map[MessageID]bool, len(sorted))
	for _, m := range sorted {
		anchors[m.ID] = true
	}

	// A spoiled cache invalidates everything after it.
	invalidated := make(map[MessageID]bool)
	encounteredInvalid := false
	for _, message := range messages {
		metadata, ok := t.messagesMetadata[message.ID]
		isInvalid := !ok || !t.isCacheValidLocked(metadata, message.OffsetRange) || encounteredInvalid
		encounteredInvalid = encounteredInvalid || isInvalid
		if isInvalid {
			invalidated[message.ID] = true
		}
	}

	var lastAnchor *MessageID
	for i := len(messages) - 1; i >= 0; i-- {
		if anchors[messages[i].ID] {
			id := messages[i].ID
			lastAnchor = &id
			break
		}
	}

	newAnchorNeedsCaching := false
	currentVersion := t.buffer.Version()
	hitLastAnchor := lastAnchor == nil

	for _, message := range messages {
		if hitLastAnchor {
			t.updateMetadataLocked(message.ID, func(m *MessageMetadata) { m.Cache = nil })
			continue
		}
		if lastAnchor != nil && message.ID == *lastAnchor {
			hitLastAnchor = true
		}

		newAnchorNeedsCaching = newAnchorNeedsCaching ||
			(invalidated[message.ID] && anchors[message.ID])

		id := message.ID
		t.updateMetadataLocked(id, func(m *MessageMetadata) {
			status := CachePending
			if !invalidated[id] && m.Cache != nil {
				status = m.Cache.Status
			}
			m.Cache = &CacheMarker{
				IsAnchor:      anchors[id],
				IsFinalAnchor: hitLastAnchor,
				Status:        status,
				CachedAt:      currentVersion,
			}
		})
	}

	if newAnchorNeedsCaching {
		t.log.Debug("cache anchors moved, %d invalidated messages", len(invalidated))
	}
	return newAnchorNeedsCaching
}

// UpdateCacheStatusForCompletion promotes every pending cache marker to
// cached. Call it after a completion request has successfully written the
// prefix upstream.
func (t *Thread) UpdateCacheStatusForCompletion() {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pendingIDs []MessageID
	for id, metadata := range t.messagesMetadata {
		if metadata.Cache != nil && metadata.Cache.Status == CachePending {
			pendingIDs = append(pendingIDs, id)
		}
	}
	sort.Slice(pendingIDs, func(i, j int) bool { return pendingIDs[i].Cmp(pendingIDs[j]) < 0 })

	for _, id := range pendingIDs {
		t.updateMetadataLocked(id, func(m *MessageMetadata) {
			if m.Cache != nil {
				marker := *m.Cache
				marker.Status = CacheCached
				m.Cache = &marker
			}
		})
	}
}
