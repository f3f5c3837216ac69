package server

import (
	"errors"
	"testing"

	"krypton/internal/domain"
)

func TestSanitizeVolumeName(t *testing.T) {
	cases := map[string]string{
		"s1":            "s1",
		"abc-DEF_1.2":   "abc-DEF_1.2",
		"../etc/passwd": ".._etc_passwd",
		"a b/c":         "a_b_c",
		"weird$id!":     "weird_id_",
	}
	for in, want := range cases {
		if got := SanitizeVolumeName(in); got != want {
			t.Errorf("SanitizeVolumeName(%q) = %q, want %q", in, got, want)
		}
	}

	// Idempotence: sanitizing twice changes nothing.
	for in := range cases {
		once := SanitizeVolumeName(in)
		if twice := SanitizeVolumeName(once); twice != once {
			t.Errorf("SanitizeVolumeName not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestParsePowerAction(t *testing.T) {
	for _, s := range []string{"start", "stop", "restart", "kill"} {
		if _, err := ParsePowerAction(s); err != nil {
			t.Errorf("ParsePowerAction(%q) failed: %v", s, err)
		}
	}
	if _, err := ParsePowerAction("explode"); err == nil {
		t.Errorf("Expected error for unknown action")
	}
}

func TestCheckTransition(t *testing.T) {
	cases := []struct {
		state  domain.ServerState
		action PowerAction
		ok     bool
	}{
		{domain.StateRunning, PowerStart, false},
		{domain.StateStarting, PowerStart, false},
		{domain.StateStopped, PowerStart, true},
		{domain.StateInstalled, PowerStart, true},
		{domain.StateStopped, PowerStop, false},
		{domain.StateStopped, PowerKill, false},
		{domain.StateRunning, PowerStop, true},
		{domain.StateRunning, PowerKill, true},
		{domain.StateStarting, PowerRestart, false},
		{domain.StateStopping, PowerRestart, false},
		{domain.StateRunning, PowerRestart, true},
		{domain.StateInstalling, PowerStart, false},
		{domain.StateUpdating, PowerStop, false},
		{domain.StateDeleting, PowerKill, false},
		{domain.StateInstallFailed, PowerStart, true},
		{domain.StateInstallFailed, PowerStop, false},
	}

	for _, c := range cases {
		err := checkTransition(c.state, c.action)
		if c.ok && err != nil {
			t.Errorf("checkTransition(%s, %s): unexpected error %v", c.state, c.action, err)
		}
		if !c.ok {
			if err == nil {
				t.Errorf("checkTransition(%s, %s): expected rejection", c.state, c.action)
			} else if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("checkTransition(%s, %s): expected ErrInvalidTransition, got %v", c.state, c.action, err)
			}
		}
	}
}

func TestTemplateStartupResolvesCargoIdentity(t *testing.T) {
	m := &Manager{}
	srv := &domain.Server{
		StartupCommand: "./run.sh --map %cargo:['maps/world.zip']% --port %server_port%",
		Variables: []domain.Variable{
			{Name: "Server Port", DefaultValue: "25565", Rules: "string|max:5"},
		},
	}

	// No panel snapshot: cargo references resolve to themselves.
	got, err := m.templateStartup(srv, nil)
	if err != nil {
		t.Fatalf("templateStartup failed: %v", err)
	}
	want := "./run.sh --map maps/world.zip --port 25565"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	// With a snapshot, unknown references are an error.
	_, err = m.templateStartup(srv, []domain.CargoFile{{TargetPath: "other.zip"}})
	var unknown *domain.UnknownCargoError
	if !errors.As(err, &unknown) {
		t.Errorf("Expected UnknownCargoError with explicit cargo list, got %v", err)
	}
}
