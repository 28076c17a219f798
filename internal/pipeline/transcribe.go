package pipeline

import (
	"context"
	"crypto/sha256"
	"math"
	"sort"

	"github.com/drumscribe/api/internal/model"
)

// Transcriber turns a separated drum signal into ordered note events. It must
// be deterministic for identical input bytes so pipeline runs are
// reproducible.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, duration float64) (*model.TranscriptionResult, error)
}

// PatternTranscriber derives a backbeat pattern from a content hash of the
// input. It stands in for a real onset-detection model: same bytes always
// produce the same tempo, events, and confidence, and silent input produces
// zero events.
type PatternTranscriber struct{}

func (PatternTranscriber) Transcribe(ctx context.Context, audio []byte, duration float64) (*model.TranscriptionResult, error) {
	sum := sha256.Sum256(audio)

	tempo := 90 + int(sum[0])%80
	confidence := 0.70 + float64(sum[1]%25)/100

	result := &model.TranscriptionResult{
		Tempo:           tempo,
		TimeSignature:   "4/4",
		ConfidenceScore: confidence,
	}

	if silent(audioBody(audio)) {
		result.Events = []model.DrumEvent{}
		return result, nil
	}

	beat := 60.0 / float64(tempo)
	hatDuration := beat / 4

	// Kick on 1 and 3, snare on 2 and 4, hats on eighths. Velocities vary
	// with the hash so distinct inputs yield distinct dynamics.
	var events []model.DrumEvent
	i := 0
	for t := 0.0; t < duration; t += beat / 2 {
		vel := 0.6 + float64(sum[2+i%28]%32)/100

		switch i % 8 {
		case 0, 4:
			events = append(events, model.DrumEvent{
				OnsetTime: t, Pitch: model.DrumKick, Duration: beat / 2, Velocity: vel,
			})
		case 2, 6:
			events = append(events, model.DrumEvent{
				OnsetTime: t, Pitch: model.DrumSnare, Duration: beat / 2, Velocity: vel,
			})
		}
		events = append(events, model.DrumEvent{
			OnsetTime: t, Pitch: model.DrumClosedHat, Duration: hatDuration, Velocity: vel * 0.8,
		})
		i++
	}

	result.Events = events
	return result, nil
}

func silent(body []byte) bool {
	for _, b := range body {
		if b != 0 {
			return false
		}
	}
	return true
}

// postProcess cleans the raw transcription: onsets are quantized to a
// sixteenth-note grid, events are ordered by onset, and velocities are
// clamped to [0, 1]. Simultaneous hits at one onset are preserved.
func postProcess(res *model.TranscriptionResult) *model.TranscriptionResult {
	grid := 60.0 / float64(res.Tempo) / 4

	for i := range res.Events {
		ev := &res.Events[i]
		ev.OnsetTime = math.Round(ev.OnsetTime/grid) * grid
		if ev.Velocity > 1 {
			ev.Velocity = 1
		}
		if ev.Velocity < 0 {
			ev.Velocity = 0
		}
	}

	sort.SliceStable(res.Events, func(i, j int) bool {
		return res.Events[i].OnsetTime < res.Events[j].OnsetTime
	})

	return res
}
