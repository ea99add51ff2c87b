package state

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextWithEnvRoundTrips(t *testing.T) {
	ctx := ContextWithEnv(context.Background())
	env := EnvFromContext(ctx)
	if env == nil {
		t.Fatal("EnvFromContext returned nil")
	}
	if env.Cfg != nil || env.Log != nil {
		t.Errorf("freshly created LocalEnv should start zero-valued, got %+v", env)
	}
}

func TestEnvFromContextPanicsWithoutEnv(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected EnvFromContext to panic on a context with no LocalEnv")
		}
	}()
	EnvFromContext(context.Background())
}

func TestUptimeIsMonotonic(t *testing.T) {
	env := newLocalEnv()
	time.Sleep(time.Millisecond)
	if env.Uptime() <= 0 {
		t.Error("Uptime should be positive after time passes")
	}
}

func TestRedirectStdLogNoopWithoutLogger(t *testing.T) {
	env := newLocalEnv()
	env.RedirectStdLog()
	env.RestoreStdLog()
}

func TestRedirectStdLogRestoresOnClose(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	env := newLocalEnv()
	env.Log = zap.New(core)

	env.RedirectStdLog()
	if env.restoreStdLog == nil {
		t.Fatal("expected RedirectStdLog to capture a restore function")
	}
	env.RestoreStdLog()
}
