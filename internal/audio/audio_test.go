package audio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arre-reader/arre/internal/engines"
)

// pcm returns raw silence of the given length at DefaultSampleRate.
func pcm(d time.Duration) []byte {
	n := int(d.Seconds() * DefaultSampleRate)
	return make([]byte, 2*n)
}

func TestDecode(t *testing.T) {
	wav, err := engines.EncodeWAV(make([]int, 16000), 16000)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		in       []byte
		duration time.Duration
		rate     int
		err      error
	}{
		{name: "wav", in: wav, duration: time.Second, rate: 16000},
		{name: "raw pcm", in: pcm(500 * time.Millisecond), duration: 500 * time.Millisecond, rate: DefaultSampleRate},
		{name: "empty", in: nil, err: ErrEmptyAudio},
		{name: "odd raw", in: []byte{1, 2, 3}, err: ErrInvalidAudio},
		{name: "broken wav", in: []byte("RIFFxxxxWAVEjunk"), err: ErrInvalidAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Decode(tt.in)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if buf.Duration() != tt.duration || buf.SampleRate != tt.rate {
				t.Errorf("duration=%v rate=%d, want %v %d", buf.Duration(), buf.SampleRate, tt.duration, tt.rate)
			}
		})
	}
}

func TestDecode_RawScale(t *testing.T) {
	buf, err := Decode([]byte{0x00, 0x80, 0x00, 0x40})
	if err != nil {
		t.Fatal(err)
	}
	if buf.Samples[0] != -1 || buf.Samples[1] != 0.5 {
		t.Errorf("samples = %v, want [-1 0.5]", buf.Samples)
	}
}

func TestScheduler_BackToBack(t *testing.T) {
	sink := NewMockSink()
	s := NewScheduler(sink)

	if err := s.Enqueue(pcm(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(pcm(3 * time.Second)); err != nil {
		t.Fatal(err)
	}

	starts := sink.Starts()
	if len(starts) != 2 || starts[0] != 0 || starts[1] != 2*time.Second {
		t.Fatalf("starts = %v, want [0s 2s]", starts)
	}
	if s.LastEnd() != 5*time.Second {
		t.Errorf("LastEnd = %v, want 5s", s.LastEnd())
	}
	if s.State() != Playing {
		t.Fatalf("state = %v, want playing", s.State())
	}

	sink.Advance(2 * time.Second)
	if s.State() != Playing {
		t.Error("went idle between segments")
	}
	sink.Advance(3 * time.Second)
	if s.State() != Idle {
		t.Errorf("state = %v after 5s, want idle", s.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Errorf("Wait = %v", err)
	}
}

func TestScheduler_LateArrivalStartsNow(t *testing.T) {
	sink := NewMockSink()
	s := NewScheduler(sink)

	_ = s.Enqueue(pcm(time.Second))
	sink.Advance(1500 * time.Millisecond)
	if s.State() != Idle {
		t.Fatal("expected idle after first segment")
	}

	_ = s.Enqueue(pcm(time.Second))
	starts := sink.Starts()
	if starts[1] != 1500*time.Millisecond {
		t.Errorf("late segment started at %v, want 1.5s", starts[1])
	}
}

func TestScheduler_EnqueueWhilePlaying(t *testing.T) {
	sink := NewMockSink()
	s := NewScheduler(sink)

	_ = s.Enqueue(pcm(2 * time.Second))
	sink.Advance(500 * time.Millisecond)
	_ = s.Enqueue(pcm(time.Second))

	if got := sink.Starts()[1]; got != 2*time.Second {
		t.Errorf("second segment at %v, want 2s", got)
	}
}

func TestScheduler_StopResetsTimeline(t *testing.T) {
	sink := NewMockSink()
	s := NewScheduler(sink)

	_ = s.Enqueue(pcm(2 * time.Second))
	_ = s.Enqueue(pcm(2 * time.Second))
	sink.Advance(time.Second)

	s.Stop()
	if s.State() != Idle || s.LastEnd() != 0 {
		t.Fatalf("after Stop: state=%v lastEnd=%v", s.State(), s.LastEnd())
	}
	if sink.CurrentTime() != 0 {
		t.Errorf("sink clock = %v after Stop, want 0", sink.CurrentTime())
	}

	// Callbacks of stopped sources must not disturb the next document.
	_ = s.Enqueue(pcm(time.Second))
	if starts := sink.Starts(); len(starts) != 1 || starts[0] != 0 {
		t.Errorf("starts after Stop = %v, want [0s]", starts)
	}
	sink.Advance(3 * time.Second)
	if s.State() != Idle {
		t.Error("scheduler did not settle after restart")
	}
}

func TestScheduler_PauseHoldsClock(t *testing.T) {
	sink := NewMockSink()
	s := NewScheduler(sink)
	_ = s.Enqueue(pcm(time.Second))

	paused, err := s.TogglePause()
	if err != nil || !paused {
		t.Fatalf("TogglePause = %v, %v", paused, err)
	}
	sink.Advance(5 * time.Second)
	if s.State() != Playing || sink.CurrentTime() != 0 {
		t.Fatalf("clock moved while paused: %v", sink.CurrentTime())
	}

	if paused, _ := s.TogglePause(); paused {
		t.Fatal("TogglePause did not resume")
	}
	sink.Advance(time.Second)
	if s.State() != Idle {
		t.Error("segment did not finish after resume")
	}
}

func TestScheduler_RateAndRewind(t *testing.T) {
	sink := NewMockSink()
	s := NewScheduler(sink)
	_ = s.Enqueue(pcm(2 * time.Second))

	if err := s.SetRate(8); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("SetRate(8) = %v", err)
	}
	if err := s.SetRate(2); err != nil {
		t.Fatal(err)
	}
	sink.Advance(500 * time.Millisecond)
	if sink.CurrentTime() != time.Second {
		t.Errorf("clock at 2x = %v, want 1s", sink.CurrentTime())
	}

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if sink.CurrentTime() != 0 {
		t.Errorf("clock after rewind = %v", sink.CurrentTime())
	}
	if s.LastEnd() != 2*time.Second {
		t.Errorf("rewind changed the schedule: lastEnd=%v", s.LastEnd())
	}
}

func TestScheduler_WaitHonoursContext(t *testing.T) {
	sink := NewMockSink()
	s := NewScheduler(sink)
	_ = s.Enqueue(pcm(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want deadline exceeded", err)
	}
}

func TestScheduler_RejectsUndecodable(t *testing.T) {
	s := NewScheduler(NewMockSink())
	if err := s.Enqueue(nil); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("Enqueue(nil) = %v", err)
	}
	if s.State() != Idle {
		t.Error("failed enqueue left scheduler playing")
	}
}

func TestTimeline_RenderIsGapless(t *testing.T) {
	tl := newTimeline()
	// A power of two keeps the clock arithmetic exact.
	const rate = 1024

	ones := &Buffer{Samples: []float32{0.5, 0.5, 0.5, 0.5}, SampleRate: rate}
	twos := &Buffer{Samples: []float32{-0.5, -0.5, -0.5, -0.5}, SampleRate: rate}

	var ended []string
	_, _ = tl.schedule(ones, 0, func() { ended = append(ended, "a") })
	_, _ = tl.schedule(twos, 4*time.Second/rate, func() { ended = append(ended, "b") })

	out := make([]int16, 10)
	fire(tl.render(out, rate))

	for i := 0; i < 4; i++ {
		if out[i] <= 0 {
			t.Errorf("sample %d = %d, want positive", i, out[i])
		}
	}
	for i := 4; i < 8; i++ {
		if out[i] >= 0 {
			t.Errorf("sample %d = %d, want negative", i, out[i])
		}
	}
	for i := 8; i < 10; i++ {
		if out[i] != 0 {
			t.Errorf("sample %d = %d, want silence", i, out[i])
		}
	}
	if len(ended) != 2 || ended[0] != "a" || ended[1] != "b" {
		t.Errorf("ended = %v", ended)
	}
}

func TestTimeline_StoppedSourceIsSilent(t *testing.T) {
	tl := newTimeline()
	src, _ := tl.schedule(&Buffer{Samples: []float32{1, 1}, SampleRate: 1000}, 0, func() {
		t.Error("stopped source fired its callback")
	})
	if err := src.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := src.Stop(); !errors.Is(err, ErrSourceStopped) {
		t.Errorf("second Stop = %v", err)
	}

	out := make([]int16, 4)
	fire(tl.render(out, 1000))
	for i, v := range out {
		if v != 0 {
			t.Errorf("sample %d = %d, want silence", i, v)
		}
	}
}

func TestStepRate(t *testing.T) {
	tests := []struct {
		cur  float64
		up   bool
		want float64
	}{
		{1, true, 1.25},
		{1, false, 0.75},
		{1.1, true, 1.25},
		{1.1, false, 1},
		{4, true, 4},
		{0.5, false, 0.5},
		{0.25, true, 0.5},
	}
	for _, tt := range tests {
		if got := StepRate(tt.cur, tt.up); got != tt.want {
			t.Errorf("StepRate(%v, %v) = %v, want %v", tt.cur, tt.up, got, tt.want)
		}
	}
}
