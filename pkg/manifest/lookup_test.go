package manifest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/managedmac/pkg/document"
)

func mustDecode(t *testing.T, s string) document.Node {
	t.Helper()
	n, err := document.Decode([]byte(s))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return n
}

func TestFirstMatchShadowing(t *testing.T) {
	testing1 := mustDecode(t, "ManagedPrinters:\n  hp1: {Model: testing-model, LastUpdate: 9}\n")
	prod := mustDecode(t, "ManagedPrinters:\n  hp1: {Model: prod-model, LastUpdate: 3, Location: Rm1}\n  hp2: {Model: other}\n")

	v, ok := FirstMatch([]document.Node{testing1, prod}, "ManagedPrinters.hp1")
	if !ok {
		t.Fatal("hp1 not found")
	}
	if m, _ := v.Get("Model"); mustString(t, m) != "testing-model" {
		t.Errorf("expected first catalog to win, got %v", v.Interface())
	}
	if _, ok := v.Get("Location"); ok {
		t.Error("values must not be merged across catalogs")
	}

	v, ok = FirstMatch([]document.Node{testing1, prod}, "ManagedPrinters.hp2")
	if !ok {
		t.Fatal("hp2 should fall through to prod")
	}
	if m, _ := v.Get("Model"); mustString(t, m) != "other" {
		t.Errorf("unexpected hp2 %v", v.Interface())
	}

	if _, ok := FirstMatch([]document.Node{testing1, prod}, "ManagedPrinters.hp3"); ok {
		t.Error("hp3 should not be found")
	}
	if _, ok := FirstMatch(nil, "ManagedPrinters.hp1"); ok {
		t.Error("empty catalog list should find nothing")
	}
}

func TestCacheFirstMatchSkipsUnavailableCatalogs(t *testing.T) {
	f := newMockFetcher(map[string]string{
		"catalogs/prod": "ManagedPrinters:\n  hp1: {Model: HP LaserJet}\n",
	})
	f.failing["catalogs/testing"] = true
	cache := NewCache(testRepo, f, zerolog.Nop())

	v, ok := cache.FirstMatch(context.Background(), []string{"testing", "missing", "prod"}, "ManagedPrinters.hp1")
	if !ok {
		t.Fatal("expected hp1 from prod")
	}
	if m, _ := v.Get("Model"); mustString(t, m) != "HP LaserJet" {
		t.Errorf("unexpected descriptor %v", v.Interface())
	}
}

func TestEffectiveCatalogs(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		parent []string
		want   []string
	}{
		{"own list", "catalogs: [a, b]", []string{"p"}, []string{"a", "b"}},
		{"empty list inherits", "catalogs: []", []string{"p"}, []string{"p"}},
		{"missing key inherits", "{}", []string{"p"}, []string{"p"}},
		{"nothing at all", "{}", nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveCatalogs(mustDecode(t, tt.doc), tt.parent)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestConditionsEvaluate(t *testing.T) {
	c := NewConditions(map[string]any{
		"hostname":      "lab-07.example.com",
		"serial_number": "C02XYZ",
		"os":            "darwin",
	})

	tests := []struct {
		expr    string
		want    bool
		wantErr bool
	}{
		{`os == "darwin"`, true, false},
		{`hostname endsWith ".example.com" && serial_number != ""`, true, false},
		{`undefined_fact == nil`, true, false},
		{`os == "linux"`, false, false},
		{`hostname`, false, true},
		{`(((`, false, true},
		{``, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := c.Evaluate(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	// compiled programs are reused
	if _, err := c.Evaluate(`os == "darwin"`); err != nil {
		t.Fatal(err)
	}
	if len(c.programs) != 5 {
		t.Errorf("expected 5 cached programs, got %d", len(c.programs))
	}
}

func mustString(t *testing.T, n document.Node) string {
	t.Helper()
	s, ok := n.String()
	if !ok {
		t.Fatalf("expected scalar, got %s", n.Kind())
	}
	return s
}
