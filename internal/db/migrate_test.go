package db

import "testing"

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected embedded migrations")
	}

	first := migrations[0]
	if first.Version != 1 || first.Name != "001_slots" {
		t.Fatalf("unexpected first migration %d %q", first.Version, first.Name)
	}
	if first.SQL == "" {
		t.Fatal("migration body is empty")
	}

	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Fatalf("migrations not strictly ordered at %s", migrations[i].Name)
		}
	}
}
