package audit

import (
	"context"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "nil database",
			cfg: Config{
				DB: nil,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if logger != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = logger.Close(ctx)
			}
		})
	}
}

func TestLoggerLogNonBlocking(t *testing.T) {
	// Construct directly with a tiny buffer and no worker; Log must
	// drop rather than block when the buffer is full.
	l := &Logger{
		events: make(chan Event, 1),
		done:   make(chan struct{}),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			l.Log(Event{NationalID: "29801130102345", Service: "svc", Outcome: OutcomeOK})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on full buffer")
	}

	_, dropped := l.Stats()
	if dropped != 9 {
		t.Errorf("expected 9 dropped events, got %d", dropped)
	}
}

func TestNewQueryServiceNilDB(t *testing.T) {
	if _, err := NewQueryService(nil); err == nil {
		t.Fatal("expected error for nil database")
	}
}
