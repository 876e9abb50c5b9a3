package speeches

import (
	"time"

	"github.com/shopspring/decimal"

	"sepscribe/pipeline"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type (
	// Run is one processed upload as kept in history.
	Run struct {
		ID           string                `json:"id"`
		RequestID    string                `json:"request_id"`
		Name         string                `json:"name"`
		Blake3Hash   string                `json:"blake3_hash"`
		Status       Status                `json:"status"`
		Error        string                `json:"error,omitempty"`
		AudioSeconds decimal.Decimal       `json:"audio_seconds"`
		Elapsed      time.Duration         `json:"elapsed_ns"`
		CreatedAt    time.Time             `json:"created_at"`
		Transcripts  []pipeline.Transcript `json:"transcripts,omitempty"`
	}
)

func seconds(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(d.Milliseconds()).Div(decimal.NewFromInt(1000))
}
