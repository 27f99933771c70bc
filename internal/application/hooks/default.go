package hooks

import (
	"context"
	"log"
)

var globalHookManager = NewManager()

func init() {
	defaults := []struct {
		name  string
		phase Phase
		msg   string
	}{
		{"log_startup", BeforeStart, "minidevops is starting..."},
		{"log_started", AfterStart, "minidevops started"},
		{"log_shutdown", BeforeShutdown, "minidevops is shutting down..."},
		{"log_shutdown_complete", AfterShutdown, "minidevops shutdown completed"},
	}
	for _, d := range defaults {
		msg := d.msg
		if err := RegisterHook(d.name, d.phase, func(ctx context.Context) error {
			log.Println(msg)
			return nil
		}, 100); err != nil {
			log.Printf("register default hook %s: %v", d.name, err)
		}
	}
}

func RegisterHook(name string, phase Phase, function HookFunc, priority int) error {
	return globalHookManager.Register(&Hook{Name: name, Phase: phase, Function: function, Priority: priority})
}

func GetGlobalHookManager() *Manager { return globalHookManager }
