package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pairbot.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsNeedAdmin(t *testing.T) {
	t.Setenv("ADMIN_ID", "")
	t.Setenv(EnvConfigPath, "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when ADMIN_ID is missing")
	}
	if !strings.Contains(err.Error(), "admin_id") {
		t.Errorf("expected admin_id in error, got %v", err)
	}
}

func TestLoad_DefaultsWithAdmin(t *testing.T) {
	t.Setenv("ADMIN_ID", "42")
	t.Setenv(EnvConfigPath, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.AdminID != 42 {
		t.Errorf("AdminID = %d, want 42", cfg.AdminID)
	}
	if cfg.Matching.Predicate != PredicateMode {
		t.Errorf("Predicate = %q, want %q", cfg.Matching.Predicate, PredicateMode)
	}
	if len(cfg.Registration.Attributes) != 3 {
		t.Fatalf("expected 3 default attributes, got %d", len(cfg.Registration.Attributes))
	}
	if cfg.Moderation.ComplaintThreshold != 3 {
		t.Errorf("ComplaintThreshold = %d, want 3", cfg.Moderation.ComplaintThreshold)
	}
}

func TestLoad_NonNumericAdmin(t *testing.T) {
	t.Setenv("ADMIN_ID", "root")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric ADMIN_ID")
	}
}

func TestLoad_MutualFile(t *testing.T) {
	t.Setenv("ADMIN_ID", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/pairbot")

	cfg, err := Load(filepath.Join("..", "..", "configs", "mutual.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.AdminID != 100000001 {
		t.Errorf("AdminID = %d, want 100000001", cfg.AdminID)
	}
	if cfg.Matching.Predicate != PredicateMutual {
		t.Errorf("Predicate = %q", cfg.Matching.Predicate)
	}
	if cfg.DatabaseURL != "postgres://localhost/pairbot" {
		t.Errorf("DATABASE_URL override not applied: %q", cfg.DatabaseURL)
	}
	// Messages not named in the file keep their defaults.
	if cfg.Messages.FeedbackThanks != DefaultMessages().FeedbackThanks {
		t.Errorf("FeedbackThanks = %q, want default", cfg.Messages.FeedbackThanks)
	}
	if cfg.Messages.PartnerFound != "Partner found! {gender}, {age}" {
		t.Errorf("PartnerFound = %q", cfg.Messages.PartnerFound)
	}
}

func TestLoad_ModeFileMatchesDefaults(t *testing.T) {
	t.Setenv("ADMIN_ID", "")

	cfg, err := Load(filepath.Join("..", "..", "configs", "mode.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	def := Default()
	if len(cfg.Registration.Attributes) != len(def.Registration.Attributes) {
		t.Fatalf("attribute count = %d, want %d", len(cfg.Registration.Attributes), len(def.Registration.Attributes))
	}
	for i, attr := range cfg.Registration.Attributes {
		if attr.Key != def.Registration.Attributes[i].Key {
			t.Errorf("attribute[%d] = %q, want %q", i, attr.Key, def.Registration.Attributes[i].Key)
		}
	}
	if cfg.Channel != "anon_chat_news" {
		t.Errorf("Channel = %q", cfg.Channel)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"unknown predicate",
			"admin_id: 1\nmatching:\n  predicate: best_fit\n",
			"matching.predicate",
		},
		{
			"mode key not declared",
			"admin_id: 1\nmatching:\n  predicate: mode\n  mode_key: mood\n",
			"undeclared attribute",
		},
		{
			"choice without options",
			"admin_id: 1\nregistration:\n  attributes:\n    - {key: mode, prompt: p, kind: choice}\n",
			"needs options",
		},
		{
			"consent without accept",
			"admin_id: 1\nregistration:\n  attributes:\n    - {key: mode, prompt: p, kind: consent}\n",
			"accept token",
		},
		{
			"duplicate keys",
			"admin_id: 1\nregistration:\n  attributes:\n    - {key: mode, prompt: p, kind: text}\n    - {key: mode, prompt: q, kind: text}\n",
			"duplicate key",
		},
		{
			"layout mismatch",
			"admin_id: 1\nregistration:\n  attributes:\n    - {key: mode, prompt: p, kind: choice, options: [a, b], layout: [3]}\n",
			"layout covers",
		},
		{
			"mutual missing keys",
			"admin_id: 1\nmatching:\n  predicate: mutual\n  gender_key: gender\n",
			"seeking_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ADMIN_ID", "")
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestAttributeCheck(t *testing.T) {
	choice := Attribute{Key: "gender", Kind: KindChoice, Options: []string{"Male", "Female"}}
	number := Attribute{Key: "age", Kind: KindNumber, Min: 1, Max: 120, RejectBelow: 18}
	consent := Attribute{Key: "age_confirm", Kind: KindConsent, Accept: "18+"}
	text := Attribute{Key: "about", Kind: KindText}

	tests := []struct {
		name    string
		attr    Attribute
		input   string
		value   string
		verdict Verdict
	}{
		{"choice exact", choice, "Male", "Male", Valid},
		{"choice case folded", choice, "female", "Female", Valid},
		{"choice unknown", choice, "Robot", "", Invalid},
		{"choice empty", choice, "   ", "", Invalid},
		{"number ok", number, "27", "27", Valid},
		{"number trimmed", number, " 30 ", "30", Valid},
		{"number not numeric", number, "twenty", "", Invalid},
		{"number under gate", number, "16", "16", Rejected},
		{"number over max", number, "300", "", Invalid},
		{"consent accepted", consent, "18+", "18+", Valid},
		{"consent declined", consent, "No", "", Rejected},
		{"text anything", text, "hello there", "hello there", Valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, verdict := tt.attr.Check(tt.input)
			if verdict != tt.verdict {
				t.Errorf("Check(%q) verdict = %v, want %v", tt.input, verdict, tt.verdict)
			}
			if value != tt.value {
				t.Errorf("Check(%q) value = %q, want %q", tt.input, value, tt.value)
			}
		})
	}
}

func TestAttributeRows(t *testing.T) {
	attr := Attribute{Options: []string{"a", "b", "c", "d"}, Layout: []int{2, 1, 1}}
	rows := attr.Rows()
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if len(rows[0]) != 2 || rows[0][0] != "a" || rows[0][1] != "b" {
		t.Errorf("first row = %v", rows[0])
	}

	plain := Attribute{Options: []string{"x", "y"}}
	if got := plain.Rows(); len(got) != 2 || got[1][0] != "y" {
		t.Errorf("one-per-row layout = %v", got)
	}
}

func TestRender(t *testing.T) {
	got := Render("User {user} blocked ({count}) {unknown}", map[string]string{
		"user":  "7",
		"count": "3",
	})
	want := "User 7 blocked (3) {unknown}"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}

	if got := Render("plain", nil); got != "plain" {
		t.Errorf("Render() without vars = %q", got)
	}
}
