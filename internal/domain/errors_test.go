package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfClassifiedErrors(t *testing.T) {
	t.Parallel()

	if got := KindOf(Transientf("socket timeout")); got != KindTransient {
		t.Fatalf("KindOf transient = %s", got)
	}
	if got := KindOf(Permanentf("bad credentials")); got != KindPermanent {
		t.Fatalf("KindOf permanent = %s", got)
	}
	if got := KindOf(ConfigErrorf("interval must be positive")); got != KindConfig {
		t.Fatalf("KindOf config = %s", got)
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("render stage: %w", Transient(errors.New("rate limited")))
	if !IsTransient(err) {
		t.Fatal("transient kind lost through wrapping")
	}

	var classified *ClassifiedError
	if !errors.As(err, &classified) {
		t.Fatal("wrapped error not recognized as classified")
	}
	if classified.Kind != KindTransient {
		t.Fatalf("kind = %s, want transient", classified.Kind)
	}
}

func TestUnclassifiedErrorsArePermanent(t *testing.T) {
	t.Parallel()

	if IsTransient(errors.New("mystery failure")) {
		t.Fatal("unclassified error must not be retried")
	}
	if KindOf(errors.New("mystery failure")) != KindPermanent {
		t.Fatal("unclassified error must report permanent")
	}
}
