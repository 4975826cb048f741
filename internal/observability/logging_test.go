package observability

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLogger_Levels(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{" warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, c := range cases {
		lg := NewLogger(c.in, false)
		if lg.GetLevel() != c.want {
			t.Errorf("NewLogger(%q) level = %v, want %v", c.in, lg.GetLevel(), c.want)
		}
	}
}

func TestNewLogger_Pretty(t *testing.T) {
	lg := NewLogger("info", true)
	if lg.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("pretty logger level = %v", lg.GetLevel())
	}
	// Must not panic writing through the console writer.
	lg.Info().Str("k", "v").Msg("boot")
}
