package comparisons

// MarkDocumentExpired flags the side backed by documentID and strips the
// verbatim text that side contributed. Identifiers, snapshots, and the model
// summaries survive so the artifact stays citable. Reports whether the
// record changed.
func (c *Comparison) MarkDocumentExpired(documentID string) bool {
	var info *DocumentInfo
	var label string
	switch documentID {
	case c.Doc1Info.DocumentID:
		info, label = &c.Doc1Info, "doc1"
	case c.Doc2Info.DocumentID:
		info, label = &c.Doc2Info, "doc2"
	default:
		return false
	}
	if info.Expired {
		return false
	}
	info.Expired = true

	for i := range c.TextDifferences {
		diff := &c.TextDifferences[i]
		// ChangedText pairs carry both sides, so it goes whenever either does.
		diff.ChangedText = nil
		if label == "doc1" {
			diff.RemovedText = nil
		} else {
			diff.AddedText = nil
		}
	}
	for i := range c.SectionDetailedComparisons {
		detail := &c.SectionDetailedComparisons[i]
		for j := range detail.AdditionalSearches {
			search := &detail.AdditionalSearches[j]
			for k := range search.FoundSections {
				if search.FoundSections[k].Document == label {
					search.FoundSections[k].Excerpt = ""
				}
			}
		}
	}
	return true
}
