package pipeline

import (
	"context"

	"golang.org/x/sync/semaphore"
)

type limitedSeparator struct {
	Separator
	sem *semaphore.Weighted
}

// LimitSeparator allows at most n concurrent Separate calls on sep. n == 1
// serializes access for models that are not safe to share.
func LimitSeparator(sep Separator, n int) Separator {
	if n <= 0 {
		return sep
	}
	return limitedSeparator{Separator: sep, sem: semaphore.NewWeighted(int64(n))}
}

func (l limitedSeparator) Separate(ctx context.Context, clip Clip) (Estimate, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return Estimate{}, err
	}
	defer l.sem.Release(1)
	return l.Separator.Separate(ctx, clip)
}

type limitedTranscriber struct {
	Transcriber
	sem *semaphore.Weighted
}

// LimitTranscriber allows at most n concurrent Transcribe calls on tr.
func LimitTranscriber(tr Transcriber, n int) Transcriber {
	if n <= 0 {
		return tr
	}
	return limitedTranscriber{Transcriber: tr, sem: semaphore.NewWeighted(int64(n))}
}

func (l limitedTranscriber) Transcribe(ctx context.Context, clip Clip, language string) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer l.sem.Release(1)
	return l.Transcriber.Transcribe(ctx, clip, language)
}
