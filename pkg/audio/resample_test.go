package audio_test

import (
	"errors"
	"testing"

	"github.com/parlance-dev/parlance/pkg/audio"
)

func TestResample_OutputLength(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		in       int
		from, to int
		want     int
	}{
		{"downsample 48k to 16k", 480, 48000, 16000, 160},
		{"upsample 16k to 48k", 160, 16000, 48000, 480},
		{"downsample 48k to 24k", 960, 48000, 24000, 480},
		{"identity", 100, 16000, 16000, 100},
		{"rounding", 3, 16000, 24000, 5}, // 3 * 1.5 = 4.5 rounds to 5
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := make([]int16, tc.in)
			out, err := audio.Resample(in, tc.from, tc.to)
			if err != nil {
				t.Fatalf("Resample: %v", err)
			}
			if len(out) != tc.want {
				t.Errorf("output length = %d; want %d", len(out), tc.want)
			}
		})
	}
}

func TestResample_EmptyInput(t *testing.T) {
	t.Parallel()

	out, err := audio.Resample(nil, 48000, 16000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("output length = %d; want 0", len(out))
	}
}

func TestResample_IdentityCopies(t *testing.T) {
	t.Parallel()

	in := []int16{1, 2, 3, 4}
	out, err := audio.Resample(in, 16000, 16000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	out[0] = 99
	if in[0] != 1 {
		t.Error("identity resample must not alias the input slice")
	}
}

func TestResample_InvalidRates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		from, to int
	}{
		{"ratio beyond 8:1 down", 96000, 8000},
		{"ratio beyond 1:8 up", 8000, 96000},
		{"zero from", 0, 16000},
		{"negative to", 16000, -1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.Resample([]int16{1, 2, 3}, tc.from, tc.to)
			if !errors.Is(err, audio.ErrInvalidRate) {
				t.Errorf("err = %v; want ErrInvalidRate", err)
			}
		})
	}
}

func TestResample_ConstantSignalPreserved(t *testing.T) {
	t.Parallel()

	in := make([]int16, 480)
	for i := range in {
		in[i] = 1000
	}
	out, err := audio.Resample(in, 48000, 16000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	for i, s := range out {
		if s != 1000 {
			t.Fatalf("out[%d] = %d; linear interpolation of a constant must stay constant", i, s)
		}
	}
}

func TestResample_StaysWithinInputRange(t *testing.T) {
	t.Parallel()

	// A ramp from -8000 to 8000; interpolated values must never leave the
	// input's min/max envelope.
	in := make([]int16, 161)
	for i := range in {
		in[i] = int16(-8000 + i*100)
	}
	out, err := audio.Resample(in, 16000, 48000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	for i, s := range out {
		if s < -8000 || s > 8000 {
			t.Fatalf("out[%d] = %d; outside input range [-8000, 8000]", i, s)
		}
	}
}

func TestResample_Deterministic(t *testing.T) {
	t.Parallel()

	in := []int16{0, 100, -200, 300, -400, 500, -600, 700}
	a, err := audio.Resample(in, 48000, 16000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	b, err := audio.Resample(in, 48000, 16000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("run 1 [%d] = %d, run 2 = %d; resampling must be deterministic", i, a[i], b[i])
		}
	}
}

func TestResampleBytes_RoundsLengths(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 960) // 480 samples at 48k
	out, err := audio.ResampleBytes(pcm, 48000, 16000)
	if err != nil {
		t.Fatalf("ResampleBytes: %v", err)
	}
	if len(out) != 320 { // 160 samples
		t.Errorf("output bytes = %d; want 320", len(out))
	}
}

func TestResampleBytes_OddByteCount(t *testing.T) {
	t.Parallel()

	_, err := audio.ResampleBytes(make([]byte, 961), 48000, 16000)
	if err == nil {
		t.Fatal("expected error for odd PCM16 byte count")
	}
}

func TestSampleByteConversion(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 32767, -32768}
	got := audio.BytesToSamples(audio.SamplesToBytes(in))
	if len(got) != len(in) {
		t.Fatalf("length = %d; want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d = %d; want %d", i, got[i], in[i])
		}
	}
}
