package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Transcript is one speaker's text.
type Transcript struct {
	Speaker string
	Text    string
}

// Result holds the transcripts in separation output order. Slot 0 is always
// Speaker1; the model makes no promise about which physical voice lands in
// which slot, so labels are not stable identities across requests.
type Result struct {
	Speakers      [NumSpeakers]Transcript
	AudioDuration time.Duration
	Elapsed       time.Duration
}

// SpeakerLabel names output slot i.
func SpeakerLabel(i int) string {
	return fmt.Sprintf("Speaker%d", i+1)
}

func newResult(texts [NumSpeakers]string) Result {
	var r Result
	for i, t := range texts {
		r.Speakers[i] = Transcript{Speaker: SpeakerLabel(i), Text: t}
	}
	return r
}

// MarshalJSON writes {"Speaker1": ..., "Speaker2": ...} keeping slot order.
func (r Result) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, t := range r.Speakers {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(t.Speaker)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(t.Text)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}
