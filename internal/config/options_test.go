package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
)

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()

	const doc = `
calibration:
  offset: 90
transcriber:
  primary:
    name: deepgram
    options:
      language: en-US
      alternatives: 5
      boost: 2
      threshold: 0.6
      keywords: [jelly, hey, 3]
`
	cfg, err := config.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	e := cfg.Transcriber.Primary

	if got := e.OptString("language"); got != "en-US" {
		t.Errorf("OptString(language) = %q, want en-US", got)
	}
	if got := e.OptString("alternatives"); got != "" {
		t.Errorf("OptString on a number = %q, want empty", got)
	}
	if got := e.OptInt("alternatives", 3); got != 5 {
		t.Errorf("OptInt(alternatives) = %d, want 5", got)
	}
	if got := e.OptInt("threshold", 7); got != 7 {
		t.Errorf("OptInt on a fraction = %d, want default 7", got)
	}
	if got := e.OptFloat("boost", 1); got != 2 {
		t.Errorf("OptFloat on an integer = %v, want 2", got)
	}
	if got := e.OptFloat("threshold", 0.5); got != 0.6 {
		t.Errorf("OptFloat(threshold) = %v, want 0.6", got)
	}
	if got := e.OptFloat("missing", 0.5); got != 0.5 {
		t.Errorf("OptFloat(missing) = %v, want 0.5", got)
	}
	if got := e.OptStrings("keywords"); !slices.Equal(got, []string{"jelly", "hey"}) {
		t.Errorf("OptStrings(keywords) = %v, want [jelly hey]", got)
	}
}

func TestProviderEntry_NilOptions(t *testing.T) {
	t.Parallel()

	var e config.ProviderEntry
	if e.OptString("x") != "" || e.OptInt("x", 4) != 4 || e.OptFloat("x", 1.5) != 1.5 || e.OptStrings("x") != nil {
		t.Error("nil Options must yield defaults")
	}
}
