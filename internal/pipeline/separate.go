package pipeline

import (
	"context"
	"log"
)

// Separator produces an isolated percussive signal from a full mix. The
// algorithm itself is a replaceable collaborator; anything honoring the
// contract (same bytes in, separated bytes out) can serve.
type Separator interface {
	Separate(ctx context.Context, audio []byte) ([]byte, error)
}

// PassThroughSeparator returns the mix unchanged. It satisfies the stage
// contract so the pipeline runs without a real separation model.
type PassThroughSeparator struct{}

func (PassThroughSeparator) Separate(ctx context.Context, audio []byte) ([]byte, error) {
	return audio, nil
}

// FallbackSeparator tries a primary separator and degrades to a fallback on
// failure, keeping the stage functional when an external separation service
// is down.
type FallbackSeparator struct {
	Primary  Separator
	Fallback Separator
}

func (f FallbackSeparator) Separate(ctx context.Context, audio []byte) ([]byte, error) {
	out, err := f.Primary.Separate(ctx, audio)
	if err == nil {
		return out, nil
	}
	log.Printf("Primary separator failed, using fallback: %v", err)
	return f.Fallback.Separate(ctx, audio)
}
