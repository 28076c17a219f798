package pipeline

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"math"

	"github.com/drumscribe/api/internal/codec"
	"github.com/drumscribe/api/internal/model"
)

// ErrRendererUnavailable marks an export kind whose generator cannot produce
// real bytes in this build.
var ErrRendererUnavailable = errors.New("renderer unavailable")

// Renderer produces the bytes of one export kind from a transcription.
type Renderer func(filename string, res *model.TranscriptionResult) ([]byte, error)

func defaultRenderers() map[model.ExportKind]Renderer {
	return map[model.ExportKind]Renderer{
		model.ExportMusicXML: renderMusicXML,
		model.ExportMIDI:     renderMIDI,
		model.ExportPDF:      renderPDF,
	}
}

// renderArtifacts runs every configured renderer. A failure in one kind
// degrades that kind to a textual placeholder and continues the others; the
// job never fails because one renderer did.
func renderArtifacts(renderers map[model.ExportKind]Renderer, filename string, res *model.TranscriptionResult) []model.Artifact {
	artifacts := make([]model.Artifact, 0, len(model.ExportKinds))

	for _, kind := range model.ExportKinds {
		render, ok := renderers[kind]
		if !ok {
			render = func(string, *model.TranscriptionResult) ([]byte, error) {
				return nil, ErrRendererUnavailable
			}
		}

		data, err := render(filename, res)
		if err != nil {
			artifacts = append(artifacts, model.Artifact{
				Kind:        kind,
				Data:        placeholderText(kind, filename, res, err),
				ContentType: codec.FallbackContentType,
				Degraded:    true,
				Reason:      err.Error(),
			})
			continue
		}

		artifacts = append(artifacts, model.Artifact{
			Kind:        kind,
			Data:        data,
			ContentType: codec.ContentType(kind),
		})
	}

	return artifacts
}

func placeholderText(kind model.ExportKind, filename string, res *model.TranscriptionResult, cause error) []byte {
	return []byte(fmt.Sprintf(
		"%s export is not available for %q.\nTempo: %d BPM, %s time, %d drum events, confidence %.2f.\nReason: %v\n",
		kind, filename, res.Tempo, res.TimeSignature, len(res.Events), res.ConfidenceScore, cause,
	))
}

// renderPDF would need an engraving backend (LilyPond or similar) which this
// service does not bundle; the kind is always degraded to a placeholder.
func renderPDF(filename string, res *model.TranscriptionResult) ([]byte, error) {
	return nil, fmt.Errorf("%w: pdf engraving backend not bundled", ErrRendererUnavailable)
}

const musicXMLDivisions = 4 // sixteenth-note resolution per quarter

// renderMusicXML writes a score-partwise document with one percussion part.
func renderMusicXML(filename string, res *model.TranscriptionResult) ([]byte, error) {
	beat := 60.0 / float64(res.Tempo)
	beatsPerMeasure := 4
	measureLen := beat * float64(beatsPerMeasure)

	measures := 1
	for _, ev := range res.Events {
		m := int(ev.OnsetTime/measureLen) + 1
		if m > measures {
			measures = m
		}
	}

	byMeasure := make([][]model.DrumEvent, measures)
	for _, ev := range res.Events {
		m := int(ev.OnsetTime / measureLen)
		if m >= measures {
			m = measures - 1
		}
		byMeasure[m] = append(byMeasure[m], ev)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<score-partwise version="3.1">` + "\n")
	buf.WriteString("  <work><work-title>")
	if err := xml.EscapeText(&buf, []byte(filename)); err != nil {
		return nil, err
	}
	buf.WriteString("</work-title></work>\n")
	buf.WriteString("  <part-list>\n")
	buf.WriteString(`    <score-part id="P1"><part-name>Drumset</part-name></score-part>` + "\n")
	buf.WriteString("  </part-list>\n")
	buf.WriteString(`  <part id="P1">` + "\n")

	for m := 0; m < measures; m++ {
		fmt.Fprintf(&buf, `    <measure number="%d">`+"\n", m+1)
		if m == 0 {
			fmt.Fprintf(&buf, "      <attributes>\n")
			fmt.Fprintf(&buf, "        <divisions>%d</divisions>\n", musicXMLDivisions)
			fmt.Fprintf(&buf, "        <time><beats>%d</beats><beat-type>4</beat-type></time>\n", beatsPerMeasure)
			fmt.Fprintf(&buf, "        <clef><sign>percussion</sign></clef>\n")
			fmt.Fprintf(&buf, "      </attributes>\n")
			fmt.Fprintf(&buf, `      <direction><sound tempo="%d"/></direction>`+"\n", res.Tempo)
		}

		if len(byMeasure[m]) == 0 {
			fmt.Fprintf(&buf, "      <note><rest/><duration>%d</duration></note>\n",
				musicXMLDivisions*beatsPerMeasure)
		}

		var prevOnset float64 = -1
		for _, ev := range byMeasure[m] {
			dur := int(math.Round(ev.Duration / beat * musicXMLDivisions))
			if dur < 1 {
				dur = 1
			}
			buf.WriteString("      <note>")
			if prevOnset >= 0 && ev.OnsetTime == prevOnset {
				buf.WriteString("<chord/>")
			}
			fmt.Fprintf(&buf,
				"<unpitched><display-step>%s</display-step><display-octave>%d</display-octave></unpitched>",
				displayStep(ev.Pitch), displayOctave(ev.Pitch))
			fmt.Fprintf(&buf, "<duration>%d</duration><instrument id=\"P1-I%d\"/>", dur, ev.Pitch)
			buf.WriteString("</note>\n")
			prevOnset = ev.OnsetTime
		}

		buf.WriteString("    </measure>\n")
	}

	buf.WriteString("  </part>\n")
	buf.WriteString("</score-partwise>\n")
	return buf.Bytes(), nil
}

func displayStep(pitch int) string {
	switch pitch {
	case model.DrumKick:
		return "F"
	case model.DrumSnare:
		return "C"
	case model.DrumClosedHat, model.DrumOpenHat:
		return "G"
	default:
		return "A"
	}
}

func displayOctave(pitch int) int {
	if pitch == model.DrumKick {
		return 4
	}
	return 5
}

const midiTicksPerQuarter = 480

// renderMIDI writes a standard MIDI file (format 0) with all events on the
// percussion channel.
func renderMIDI(filename string, res *model.TranscriptionResult) ([]byte, error) {
	type midiEvent struct {
		tick   int
		status byte
		pitch  byte
		vel    byte
	}

	ticksPerSecond := float64(res.Tempo) / 60 * midiTicksPerQuarter

	var events []midiEvent
	for _, ev := range res.Events {
		on := int(math.Round(ev.OnsetTime * ticksPerSecond))
		off := int(math.Round((ev.OnsetTime + ev.Duration) * ticksPerSecond))
		if off <= on {
			off = on + 1
		}
		vel := byte(math.Round(ev.Velocity * 127))
		if vel == 0 {
			vel = 1
		}
		events = append(events, midiEvent{on, 0x99, byte(ev.Pitch), vel})
		events = append(events, midiEvent{off, 0x89, byte(ev.Pitch), 0})
	}

	// Stable order: by tick, note-offs before note-ons at the same tick.
	for i := 1; i < len(events); i++ {
		for j := i; j > 0; j-- {
			a, b := events[j-1], events[j]
			if b.tick < a.tick || (b.tick == a.tick && b.status < a.status) {
				events[j-1], events[j] = b, a
			} else {
				break
			}
		}
	}

	var track bytes.Buffer

	// Tempo meta: microseconds per quarter note.
	writeVarLen(&track, 0)
	usPerQuarter := 60_000_000 / res.Tempo
	track.Write([]byte{0xFF, 0x51, 0x03,
		byte(usPerQuarter >> 16), byte(usPerQuarter >> 8), byte(usPerQuarter)})

	// 4/4 time signature meta.
	writeVarLen(&track, 0)
	track.Write([]byte{0xFF, 0x58, 0x04, 0x04, 0x02, 0x18, 0x08})

	lastTick := 0
	for _, ev := range events {
		writeVarLen(&track, ev.tick-lastTick)
		track.Write([]byte{ev.status, ev.pitch, ev.vel})
		lastTick = ev.tick
	}

	// End of track.
	writeVarLen(&track, 0)
	track.Write([]byte{0xFF, 0x2F, 0x00})

	var out bytes.Buffer
	out.WriteString("MThd")
	binary.Write(&out, binary.BigEndian, uint32(6))
	binary.Write(&out, binary.BigEndian, uint16(0)) // format 0
	binary.Write(&out, binary.BigEndian, uint16(1)) // one track
	binary.Write(&out, binary.BigEndian, uint16(midiTicksPerQuarter))
	out.WriteString("MTrk")
	binary.Write(&out, binary.BigEndian, uint32(track.Len()))
	out.Write(track.Bytes())

	return out.Bytes(), nil
}

// writeVarLen encodes a delta time in the MIDI variable-length form.
func writeVarLen(buf *bytes.Buffer, v int) {
	if v < 0 {
		v = 0
	}
	var stack [4]byte
	n := 0
	for {
		stack[n] = byte(v & 0x7F)
		n++
		v >>= 7
		if v == 0 {
			break
		}
	}
	for i := n - 1; i > 0; i-- {
		buf.WriteByte(stack[i] | 0x80)
	}
	buf.WriteByte(stack[0])
}
