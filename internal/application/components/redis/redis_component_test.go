package redis

import "testing"

func TestDefaultsAndOptions(t *testing.T) {
	cfg := &Config{Enabled: true, Mode: "sentinel"}
	rc := NewRedisComponent(cfg)
	if cfg.Addresses[0] != "127.0.0.1:26379" || cfg.PoolSize != 20 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if _, err := rc.options(); err == nil {
		t.Fatalf("sentinel without master should fail")
	}
	cfg.SentinelMaster = "mymaster"
	opts, err := rc.options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.MasterName != "mymaster" || opts.PoolSize != 20 {
		t.Fatalf("unexpected options: %+v", opts)
	}

	cfg.Mode = "bogus"
	if _, err := rc.options(); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}
