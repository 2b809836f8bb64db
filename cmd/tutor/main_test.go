package main

import (
	"testing"
	"time"
)

func TestRootCommands(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"serve", "chat", "import", "stats"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered: %v", name, err)
		}
	}
	if root.Flags().Lookup("addr") == nil {
		t.Error("serve flags should be available on the root command")
	}
}

func TestViperForCmdReadsEnv(t *testing.T) {
	t.Setenv("TUTOR_SEARCH_THRESHOLD", "0.75")
	t.Setenv("TUTOR_REDIS_ADDR", "localhost:6379")

	v := viperForCmd(serveCmd())
	if got := v.GetFloat64("search-threshold"); got != 0.75 {
		t.Errorf("search-threshold = %v, want 0.75", got)
	}
	if got := v.GetString("redis-addr"); got != "localhost:6379" {
		t.Errorf("redis-addr = %q", got)
	}
	if got := v.GetInt("history-limit"); got != 10 {
		t.Errorf("history-limit default = %d, want 10", got)
	}
}

func TestLockTTL(t *testing.T) {
	v := viperForCmd(serveCmd())
	if got := lockTTL(v); got != 4*defaultLLMTimeout {
		t.Errorf("default lock ttl = %v, want %v", got, 4*defaultLLMTimeout)
	}

	t.Setenv("TUTOR_LLM_TIMEOUT", "30s")
	v = viperForCmd(serveCmd())
	if got := lockTTL(v); got != 2*time.Minute {
		t.Errorf("lock ttl from llm-timeout = %v, want 2m", got)
	}

	t.Setenv("TUTOR_LOCK_TTL", "90s")
	v = viperForCmd(serveCmd())
	if got := lockTTL(v); got != 90*time.Second {
		t.Errorf("explicit lock ttl = %v, want 90s", got)
	}
}
