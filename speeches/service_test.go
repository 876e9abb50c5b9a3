package speeches

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sepscribe/b3"
	"sepscribe/pipeline"
)

type fakeRunner struct {
	res pipeline.Result
	err error
	got []byte
}

func (f *fakeRunner) Run(ctx context.Context, in pipeline.Input) (pipeline.Result, error) {
	f.got, _ = io.ReadAll(in.Audio)
	return f.res, f.err
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func result(a, b string, d time.Duration) pipeline.Result {
	var r pipeline.Result
	r.Speakers[0] = pipeline.Transcript{Speaker: "Speaker1", Text: a}
	r.Speakers[1] = pipeline.Transcript{Speaker: "Speaker2", Text: b}
	r.AudioDuration = d
	return r
}

func onlyRun(t *testing.T, repo SQLiteRepo, reqID string) Run {
	t.Helper()
	runs, err := repo.RunsByRequest(context.Background(), reqID)
	if err != nil {
		t.Fatalf("RunsByRequest: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("%d runs for %s, want 1", len(runs), reqID)
	}
	got, err := repo.GetRun(context.Background(), runs[0].ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return got
}

func TestServiceRecordsCompletedRun(t *testing.T) {
	repo := NewSQLiteRepo(openTestDB(t))
	runner := &fakeRunner{res: result("hi", "there", 5250*time.Millisecond)}
	svc := NewService(runner, repo, quietLogger())

	upload := []byte("RIFF-not-checked-here")
	in := bytes.NewReader(upload)
	in.Seek(3, io.SeekStart)

	res, err := svc.Transcribe(context.Background(), "req-1", "clip.wav", in)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Speakers[1].Text != "there" {
		t.Fatalf("result = %+v", res)
	}
	if !bytes.Equal(runner.got, upload) {
		t.Fatalf("pipeline read %q, want whole upload", runner.got)
	}

	run := onlyRun(t, repo, "req-1")
	wantHash, _ := b3.Sum(bytes.NewReader(upload))
	if run.Status != StatusCompleted || run.Name != "clip.wav" || run.Blake3Hash != wantHash {
		t.Fatalf("run = %+v", run)
	}
	if run.AudioSeconds.String() != "5.25" {
		t.Fatalf("audio seconds = %s", run.AudioSeconds)
	}
	if len(run.Transcripts) != 2 || run.Transcripts[0].Speaker != "Speaker1" || run.Transcripts[0].Text != "hi" {
		t.Fatalf("transcripts = %+v", run.Transcripts)
	}
}

func TestServiceRecordsFailedRun(t *testing.T) {
	repo := NewSQLiteRepo(openTestDB(t))
	cause := &pipeline.StageError{Stage: pipeline.StageSeparate, Err: errors.New("oom")}
	svc := NewService(&fakeRunner{err: cause}, repo, quietLogger())

	_, err := svc.Transcribe(context.Background(), "req-2", "clip.wav", bytes.NewReader([]byte("x")))
	if !errors.Is(err, pipeline.ErrSeparationFailed) {
		t.Fatalf("err = %v", err)
	}

	run := onlyRun(t, repo, "req-2")
	if run.Status != StatusFailed || run.Error != cause.Error() || len(run.Transcripts) != 0 {
		t.Fatalf("run = %+v", run)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	repo := NewSQLiteRepo(openTestDB(t))
	svc := NewService(&fakeRunner{res: result("a", "b", time.Second)}, repo, quietLogger())

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	for _, id := range []string{"first", "second", "third"} {
		if _, err := svc.Transcribe(context.Background(), id, id+".wav", bytes.NewReader([]byte(id))); err != nil {
			t.Fatalf("Transcribe %s: %v", id, err)
		}
		clock = clock.Add(time.Second)
	}

	runs, err := svc.History(context.Background(), 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(runs) != 2 || runs[0].RequestID != "third" || runs[1].RequestID != "second" {
		t.Fatalf("runs = %+v", runs)
	}
	if !runs[0].CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 7, 0, time.UTC)) {
		t.Fatalf("created_at = %v", runs[0].CreatedAt)
	}
}

func TestRepeatedRequestIDKeepsEveryRun(t *testing.T) {
	repo := NewSQLiteRepo(openTestDB(t))
	runner := &fakeRunner{res: result("a", "b", time.Second)}
	svc := NewService(runner, repo, quietLogger())

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	for _, text := range []string{"first", "retry"} {
		runner.res = result(text, "", time.Second)
		if _, err := svc.Transcribe(context.Background(), "client-42", "clip.wav", bytes.NewReader([]byte(text))); err != nil {
			t.Fatalf("Transcribe %s: %v", text, err)
		}
		clock = clock.Add(time.Second)
	}

	runs, err := repo.RunsByRequest(context.Background(), "client-42")
	if err != nil {
		t.Fatalf("RunsByRequest: %v", err)
	}
	if len(runs) != 2 || runs[0].ID == runs[1].ID {
		t.Fatalf("runs = %+v, want two distinct runs", runs)
	}
	if runs[0].Transcripts[0].Text != "first" || runs[1].Transcripts[0].Text != "retry" {
		t.Fatalf("transcripts = %+v, %+v", runs[0].Transcripts, runs[1].Transcripts)
	}
}

func TestServiceWithoutHistory(t *testing.T) {
	svc := NewService(&fakeRunner{res: result("a", "b", time.Second)}, nil, quietLogger())
	if _, err := svc.Transcribe(context.Background(), "", "x.wav", bytes.NewReader(nil)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if _, err := svc.History(context.Background(), 10); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("err = %v, want ErrNoHistory", err)
	}
}
