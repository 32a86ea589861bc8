package texmeta

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/texmeta/caps"
	"github.com/gogpu/texmeta/device"
)

func TestNopHandler(t *testing.T) {
	h := nopHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), level) {
			t.Errorf("nopHandler.Enabled(%v) = true, want false", level)
		}
	}
	if err := h.Handle(context.Background(), slog.Record{}); err != nil {
		t.Errorf("nopHandler.Handle() = %v, want nil", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).(nopHandler); !ok {
		t.Error("WithAttrs did not return nopHandler")
	}
	if _, ok := h.WithGroup("g").(nopHandler); !ok {
		t.Error("WithGroup did not return nopHandler")
	}
}

func TestLoggerDefaultSilent(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger() returned nil")
	}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if l.Enabled(context.Background(), level) {
			t.Errorf("default logger should not be enabled for %v", level)
		}
	}
}

func TestSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	s, err := NewScreen(device.NewMemory(), WithCaps(caps.For(caps.GFX9)))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if !strings.Contains(buf.String(), "screen created") {
		t.Errorf("expected lifecycle log, got %q", buf.String())
	}

	SetLogger(nil)
	if Logger().Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) should restore silent logging")
	}
}

func TestRegisterLoggerSetter(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var mu sync.Mutex
	var got []*slog.Logger
	RegisterLoggerSetter(func(l *slog.Logger) {
		mu.Lock()
		got = append(got, l)
		mu.Unlock()
	})

	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	SetLogger(l)

	mu.Lock()
	defer mu.Unlock()
	if len(got) < 2 {
		t.Fatalf("setter called %d times, want at least 2", len(got))
	}
	if got[0] != orig {
		t.Error("setter was not called with the current logger")
	}
	if got[1] != l {
		t.Error("setter did not receive the new logger")
	}
}

func TestConcurrentSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				SetLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
			} else {
				_ = Logger()
			}
		}()
	}
	wg.Wait()
}
