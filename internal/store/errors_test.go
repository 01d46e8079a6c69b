package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hyperengineering/oppsync/internal/org"
)

func TestSentinelErrors_WrappedIdentity(t *testing.T) {
	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrJobNotFound", ErrJobNotFound},
		{"ErrInvalidTimestamp", ErrInvalidTimestamp},
	}

	for _, s := range sentinels {
		t.Run(s.name, func(t *testing.T) {
			if s.err.Error() == "" {
				t.Fatal("Sentinel error should have a message")
			}
			wrapped := fmt.Errorf("operation failed: %w", s.err)
			if !errors.Is(wrapped, s.err) {
				t.Errorf("errors.Is should return true for wrapped %s", s.name)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")
	if !org.IsTransient(classify(busy)) {
		t.Error("lock contention should be transient")
	}
	constraint := errors.New("constraint failed: NOT NULL constraint failed")
	if org.IsTransient(classify(constraint)) {
		t.Error("constraint failures should not be transient")
	}
}

func TestParseTime(t *testing.T) {
	if _, err := parseTime("2026-01-02T03:04:05.000000000Z"); err != nil {
		t.Errorf("fixed layout: %v", err)
	}
	if _, err := parseTime("2026-01-02T03:04:05Z"); err != nil {
		t.Errorf("rfc3339 fallback: %v", err)
	}
	if _, err := parseTime("yesterday"); !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("parseTime(garbage) = %v, want ErrInvalidTimestamp", err)
	}
}
