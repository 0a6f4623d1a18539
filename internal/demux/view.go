package demux

import "sort"

// Chapter is a named position in the timeline.
type Chapter struct {
	// PTS is the chapter start in seconds.
	PTS float64
	// Metadata carries at least a TITLE tag.
	Metadata Tags
	// DemuxerID is the container-level chapter ID.
	DemuxerID uint64

	originalIndex int
}

// Edition is an alternative timeline variant of the container.
type Edition struct {
	DemuxerID uint64
	Default   bool
	Metadata  Tags
}

// Attachment is an auxiliary file embedded in the container.
type Attachment struct {
	Name string
	Type string
	Data []byte
}

// viewData is the set of demuxer-level fields that cross the producer/
// consumer thread boundary. The producer and consumer each own one copy
// and mutate it only from their own goroutine; a third shadow copy, guarded
// by the engine lock, ferries deltas between them, gated by event flags.
type viewData struct {
	// Fields covered by EventInit. The referenced slices are treated as
	// immutable once published; copies are shallow.
	Chapters          []Chapter
	Editions          []Edition
	Edition           int
	Attachments       []Attachment
	Seekable          bool
	PartiallySeekable bool
	FileType          string
	StartTime         float64
	Duration          float64
	TSResetsPossible  bool
	FullyRead         bool
	IsNetwork         bool
	Playlist          []string
	Priv              any

	// Metadata is covered by EventMetadata.
	Metadata Tags

	// FilePos is the highest byte position observed by this view's
	// thread; not ferried.
	FilePos int64

	events           Events
	updateStreamTags []Tags
}

// copyView copies the fields selected by src's pending events into dst and
// transfers the event flags. Must be called with the engine lock held when
// either side is the shadow.
func copyView(dst, src *viewData) {
	if src.events&EventInit != 0 {
		dst.Chapters = src.Chapters
		dst.Editions = src.Editions
		dst.Edition = src.Edition
		dst.Attachments = src.Attachments
		dst.Seekable = src.Seekable
		dst.PartiallySeekable = src.PartiallySeekable
		dst.FileType = src.FileType
		dst.StartTime = src.StartTime
		dst.Duration = src.Duration
		dst.TSResetsPossible = src.TSResetsPossible
		dst.FullyRead = src.FullyRead
		dst.IsNetwork = src.IsNetwork
		dst.Playlist = src.Playlist
		dst.Priv = src.Priv
	}

	if src.events&EventMetadata != 0 {
		dst.Metadata = src.Metadata.Clone()

		if len(dst.updateStreamTags) != len(src.updateStreamTags) {
			dst.updateStreamTags = make([]Tags, len(src.updateStreamTags))
		}
		for n := range src.updateStreamTags {
			dst.updateStreamTags[n] = src.updateStreamTags[n]
			src.updateStreamTags[n] = nil
		}
	}

	dst.events |= src.events
	src.events = 0
}

// sortChapters orders chapters by start time, keeping the original order
// for equal timestamps.
func sortChapters(chapters []Chapter) {
	sort.SliceStable(chapters, func(i, j int) bool {
		if chapters[i].PTS != chapters[j].PTS {
			return chapters[i].PTS < chapters[j].PTS
		}
		return chapters[i].originalIndex < chapters[j].originalIndex
	})
}
