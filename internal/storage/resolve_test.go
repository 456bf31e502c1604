package storage

import (
	"context"
	"errors"
	"testing"
)

func TestPickCandidate(t *testing.T) {
	hades := Item{ID: 1, Name: "Hades"}
	hadesII := Item{ID: 2, Name: "Hades II"}
	shadow := Item{ID: 3, Name: "Shadow of the Tomb Raider"}

	if _, err := pickCandidate("x", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got, err := pickCandidate("tomb", []Item{shadow}); err != nil || got.ID != 3 {
		t.Fatalf("single candidate should win, got %+v (%v)", got, err)
	}
	if got, err := pickCandidate("had", []Item{hades, shadow}); err != nil || got.ID != 1 {
		t.Fatalf("unique prefix should win, got %+v (%v)", got, err)
	}
	if _, err := pickCandidate("had", []Item{hades, hadesII}); !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("unexpected escape %q", got)
	}
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	if _, err := s.ListObservations(context.Background(), 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(context.Background(), 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	s.Close()
}
