package demux

// addStreamLocked registers a stream header. Engine lock must be held.
func (in *engine) addStreamLocked(sh *Stream) {
	if sh.ds != nil {
		panic("demux: stream already added")
	}

	sh.ds = newStreamState(in, sh)

	sh.Index = len(in.streams)
	if sh.FFIndex < 0 {
		sh.FFIndex = sh.Index
	}
	if sh.DemuxerID < 0 {
		sh.DemuxerID = 0
		for _, other := range in.streams {
			if other.Kind == sh.Kind {
				sh.DemuxerID++
			}
		}
	}
	if sh.Codec == nil {
		sh.Codec = &Codec{Kind: sh.Kind}
	}
	if sh.Tags == nil {
		sh.Tags = Tags{}
	}

	in.streams = append(in.streams, sh)

	in.events |= EventStreams
	if in.wakeupFn != nil {
		in.wakeupFn()
	}
}

// AddStream registers a stream header with the engine. Once added, the
// header must be treated as immutable by the driver.
func (p *Producer) AddStream(sh *Stream) {
	in := p.in
	in.mu.Lock()
	defer in.mu.Unlock()
	in.addStreamLocked(sh)
}

// AddPacket submits a packet for the given stream. The engine owns the
// packet from this point on; it may drop it outright (stream unselected,
// seek in flight, refresh deduplication).
func (p *Producer) AddPacket(sh *Stream, dp *Packet) {
	p.in.addPacket(sh, dp)
}

// ccTrackLocked returns the synthetic closed-caption stream attached to a
// video stream, creating it on first use. Engine lock must be held.
func (in *engine) ccTrackLocked(sh *Stream) *Stream {
	cc := sh.ds.cc
	if cc == nil {
		cc = NewStream(KindSubtitle)
		cc.Codec.Codec = "eia_608"
		cc.DefaultTrack = true
		sh.ds.cc = cc
		in.addStreamLocked(cc)
		cc.ds.ignoreEOF = true
	}
	return cc
}

// FeedCaption submits a closed-caption packet extracted from the video
// stream sh. The caption stream is created lazily on first use and does
// not count toward underrun or EOF detection.
func (p *Producer) FeedCaption(sh *Stream, dp *Packet) {
	in := p.in

	in.mu.Lock()
	cc := in.ccTrackLocked(sh)
	dp.PTS = addTS(dp.PTS, -in.tsOffset)
	dp.DTS = addTS(dp.DTS, -in.tsOffset)
	in.mu.Unlock()

	in.addPacket(cc, dp)
}

// SetStreamTags updates a stream's tag map. Before the stream is added the
// tags are set directly; afterwards the update is staged and becomes
// visible to the consumer on its next Update call.
func (p *Producer) SetStreamTags(sh *Stream, tags Tags) {
	if sh.ds == nil {
		// Not added yet.
		sh.Tags = tags
		return
	}

	for len(p.updateStreamTags) <= sh.Index {
		p.updateStreamTags = append(p.updateStreamTags, nil)
	}
	p.updateStreamTags[sh.Index] = tags

	p.Changed(EventMetadata)
}

// AddChapter appends a chapter to the producer view. Publish with
// Changed(EventInit).
func (p *Producer) AddChapter(name string, pts float64, demuxerID uint64) int {
	metadata := Tags{}
	metadata.Set("TITLE", name)
	p.Chapters = append(p.Chapters, Chapter{
		PTS:           pts,
		Metadata:      metadata,
		DemuxerID:     demuxerID,
		originalIndex: len(p.Chapters),
	})
	return len(p.Chapters) - 1
}

// AddAttachment appends an embedded file to the producer view. Publish
// with Changed(EventInit).
func (p *Producer) AddAttachment(name, typ string, data []byte) int {
	p.Attachments = append(p.Attachments, Attachment{
		Name: name,
		Type: typ,
		Data: data,
	})
	return len(p.Attachments) - 1
}

// Changed publishes producer-view state selected by events to the
// consumer, via the shadow view. Drivers call this when parameters change
// at runtime (and once with EventAll during open).
func (p *Producer) Changed(events Events) {
	in := p.in

	p.events |= events

	in.updateCache()

	in.mu.Lock()

	if p.events&EventInit != 0 {
		sortChapters(p.Chapters)
	}

	copyView(in.shadow, &p.viewData)

	if in.wakeupFn != nil {
		in.wakeupFn()
	}
	in.mu.Unlock()
}
