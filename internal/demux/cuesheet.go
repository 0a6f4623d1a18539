package demux

import (
	"strconv"
	"strings"
)

// cueTrack is one TRACK entry of an embedded cue sheet.
type cueTrack struct {
	start     float64 // seconds
	file      int     // index of the FILE statement the track belongs to
	title     string
	performer string
}

// unquoteCueArg strips the optional surrounding quotes of a cue argument.
func unquoteCueArg(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// parseCueIndexTime parses the mm:ss:ff (75 frames per second) time format.
func parseCueIndexTime(s string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, false
	}
	mm, err1 := strconv.Atoi(parts[0])
	ss, err2 := strconv.Atoi(parts[1])
	ff, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || ss >= 60 || ff >= 75 {
		return 0, false
	}
	return float64(mm)*60 + float64(ss) + float64(ff)/75, true
}

// parseCueSheet parses the textual content of a cue sheet into tracks.
// Only the commands relevant for chapter generation are interpreted.
func parseCueSheet(text string) []cueTrack {
	var tracks []cueTrack
	fileCount := 0
	inTrack := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		cmd, arg, _ := strings.Cut(line, " ")

		switch strings.ToUpper(cmd) {
		case "FILE":
			fileCount++
		case "TRACK":
			tracks = append(tracks, cueTrack{
				start: NoTS,
				file:  fileCount,
			})
			inTrack = true
		case "INDEX":
			num, time, ok := strings.Cut(strings.TrimSpace(arg), " ")
			if !ok || !inTrack || len(tracks) == 0 {
				continue
			}
			// INDEX 01 is the actual track start; INDEX 00 is pregap.
			if n, err := strconv.Atoi(num); err != nil || n != 1 {
				continue
			}
			if t, ok := parseCueIndexTime(time); ok {
				tracks[len(tracks)-1].start = t
			}
		case "TITLE":
			if inTrack && len(tracks) > 0 {
				tracks[len(tracks)-1].title = unquoteCueArg(arg)
			}
		case "PERFORMER":
			if inTrack && len(tracks) > 0 {
				tracks[len(tracks)-1].performer = unquoteCueArg(arg)
			}
		}
	}

	// Tracks without a usable INDEX 01 can't become chapters.
	out := tracks[:0]
	for _, t := range tracks {
		if t.start != NoTS {
			out = append(out, t)
		}
	}
	return out
}

// cueReferencesOneFile reports whether all tracks belong to a single FILE
// statement. Embedded cue sheets spanning several files can't be mapped
// onto this container's timeline.
func cueReferencesOneFile(tracks []cueTrack) bool {
	for _, t := range tracks {
		if t.file != tracks[0].file {
			return false
		}
	}
	return true
}

// initCuesheet turns an embedded "cuesheet" metadata tag into chapters,
// when the container itself did not provide any.
func (in *engine) initCuesheet(p *Producer) {
	cue := p.Metadata.Get("cuesheet")
	if cue == "" || len(p.Chapters) > 0 {
		return
	}

	tracks := parseCueSheet(cue)
	if len(tracks) == 0 {
		return
	}
	if !cueReferencesOneFile(tracks) {
		in.log.Warn("embedded cue sheet references more than one file, ignoring it")
		return
	}

	for _, t := range tracks {
		idx := p.AddChapter(t.title, t.start, 0)
		if t.performer != "" {
			p.Chapters[idx].Metadata.Set("PERFORMER", t.performer)
		}
	}
}
