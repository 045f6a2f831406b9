package graph

// Preview resolution has two modes with deliberately different outputs:
//
//   - display mode (ResolvePreviews): every video-type source is represented
//     by its decoded last frame, so the result is always a still image a
//     generator card can render;
//   - payload mode (CollectPayloadInputs): video-type sources resolve to the
//     raw video reference, because generation extracts its own frame from the
//     full video rather than reusing the pre-decoded thumbnail.

// ResolvePreviews computes, for every generator node, the ordered list of
// resolved upstream input previews. It is a pure function of (nodes, edges):
// the input slices are not mutated, and the returned map contains an entry
// only for generators whose computed list actually differs from the stored
// one. An empty map means the graph is already at a fixed point.
func ResolvePreviews(nodes []Node, edges []Edge) map[string][]InputPreviewItem {
	if len(nodes) == 0 {
		return nil
	}

	nodeByID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		nodeByID[n.ID] = n
	}

	updates := make(map[string][]InputPreviewItem)
	for _, n := range nodes {
		if !n.Type.IsGenerator() {
			continue
		}

		// Collect distinct upstream sources in edge-array order; first
		// occurrence of each source wins.
		seen := make(map[string]bool)
		var sources []Node
		for _, e := range edges {
			if e.Target != n.ID {
				continue
			}
			src, ok := nodeByID[e.Source]
			if !ok || !src.Type.IsUpstreamSource() {
				continue
			}
			if seen[src.ID] {
				continue
			}
			seen[src.ID] = true
			sources = append(sources, src)
		}

		var next []InputPreviewItem
		for _, src := range sources {
			item := displayPreviewItem(src)
			if item.Preview == "" {
				continue
			}
			next = append(next, item)
		}

		if !previewListsEqual(n.Data.InputPreviews, next) {
			updates[n.ID] = next
		}
	}
	return updates
}

func displayPreviewItem(src Node) InputPreviewItem {
	item := InputPreviewItem{SourceNodeID: src.ID}
	switch src.Type {
	case NodeImageInput:
		item.Preview = src.Data.Preview
		item.FileName = src.Data.FileName
	case NodeVideoInput:
		item.Preview = src.Data.LastFrame
		item.FileName = lastFrameName(src.Data.FileName, "video_frame.jpg")
		item.IsLastFrame = true
	case NodeVideoGen:
		item.Preview = src.Data.LastFrame
		item.FileName = lastFrameName(src.Data.FileName, "generated_video_frame.jpg")
		item.IsLastFrame = true
	case NodeImageGen:
		item.Preview = src.Data.Preview
		item.FileName = src.Data.FileName
		if item.FileName == "" {
			item.FileName = "generated_image.jpg"
		}
	}
	return item
}

func lastFrameName(fileName, fallback string) string {
	if fileName == "" {
		return fallback
	}
	return fileName + "_last_frame.jpg"
}

// CollectPayloadInputs resolves the actual media references used at send
// time for the given generator. Video-type sources yield their full video
// URI with IsVideoSource set; frame extraction happens downstream.
func CollectPayloadInputs(targetID string, nodes []Node, edges []Edge) []InputPreviewItem {
	if targetID == "" {
		return nil
	}
	nodeByID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		nodeByID[n.ID] = n
	}

	var items []InputPreviewItem
	for _, e := range edges {
		if e.Target != targetID {
			continue
		}
		src, ok := nodeByID[e.Source]
		if !ok || !src.Type.IsUpstreamSource() {
			continue
		}
		item := InputPreviewItem{SourceNodeID: src.ID}
		switch src.Type {
		case NodeImageInput:
			item.Preview = src.Data.Preview
			item.FileName = src.Data.FileName
		case NodeVideoInput:
			item.Preview = firstNonEmpty(src.Data.VideoURL, src.Data.Preview)
			item.FileName = firstNonEmpty(src.Data.FileName, "video_frame.jpg")
			item.IsVideoSource = true
		case NodeVideoGen:
			item.Preview = firstNonEmpty(src.Data.VideoURL, src.Data.Preview)
			item.FileName = firstNonEmpty(src.Data.FileName, "generated_video_frame.jpg")
			item.IsVideoSource = true
		case NodeImageGen:
			item.Preview = src.Data.Preview
			item.FileName = firstNonEmpty(src.Data.FileName, "generated_image.jpg")
		}
		if item.Preview == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// previewListsEqual compares (sourceNodeId, preview, fileName) triples in
// order. The IsLastFrame discriminator is derived from the source node's
// type and cannot change independently, so it is excluded: this equality is
// what stops the sync controller from re-triggering itself on structurally
// identical recomputations.
func previewListsEqual(prev, next []InputPreviewItem) bool {
	if len(prev) != len(next) {
		return false
	}
	for i := range prev {
		if prev[i].SourceNodeID != next[i].SourceNodeID ||
			prev[i].Preview != next[i].Preview ||
			prev[i].FileName != next[i].FileName {
			return false
		}
	}
	return true
}
