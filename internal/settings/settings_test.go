package settings

import (
	"context"
	"os"
	"reflect"
	"testing"

	"github.com/starford/preambled/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "preambled-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM preambles`).Scan(&count); err != nil {
		t.Fatalf("preambles table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM folder_preambles`).Scan(&count); err != nil {
		t.Fatalf("folder_preambles table missing: %v", err)
	}
}

func TestLoad_Empty(t *testing.T) {
	db := testDB(t)
	s, err := db.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Preambles) != 0 || len(s.FolderPreambles) != 0 {
		t.Errorf("expected empty settings, got %+v", s)
	}
}

func TestSaveLoad_RoundTripKeepsDangling(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	in := models.Settings{
		Preambles: []models.PreambleRef{{Path: "a.md"}, {Path: "b/c.md"}},
		FolderPreambles: []models.FolderBinding{
			{FolderPath: "notes", PreamblePath: "a.md"},
			{FolderPath: "papers", PreamblePath: "gone.md"},
		},
	}
	if err := db.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestSave_ReplacesPrevious(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.Save(ctx, models.Settings{
		Preambles:       []models.PreambleRef{{Path: "old.md"}},
		FolderPreambles: []models.FolderBinding{{FolderPath: "x", PreamblePath: "old.md"}},
	})
	_ = db.Save(ctx, models.Settings{
		Preambles: []models.PreambleRef{{Path: "new.md"}},
	})

	out, _ := db.Load(ctx)
	if len(out.Preambles) != 1 || out.Preambles[0].Path != "new.md" {
		t.Errorf("preambles = %+v", out.Preambles)
	}
	if len(out.FolderPreambles) != 0 {
		t.Errorf("bindings should be cleared, got %+v", out.FolderPreambles)
	}
}

func TestImportLegacy_IDKeyed(t *testing.T) {
	blob := []byte(`{
		"someOtherSetting": true,
		"preambles": {
			"preambles": [
				{"id": "1700000000000", "path": "macros.md"},
				{"id": "1700000000001", "path": ""}
			],
			"folderPreambes": [
				{"folderPath": "notes", "preambleId": "1700000000000"},
				{"folderPath": "orphans", "preambleId": "404"}
			]
		}
	}`)
	s, err := ImportLegacy(blob)
	if err != nil {
		t.Fatalf("ImportLegacy: %v", err)
	}
	want := models.Settings{
		Preambles:       []models.PreambleRef{{Path: "macros.md"}},
		FolderPreambles: []models.FolderBinding{{FolderPath: "notes", PreamblePath: "macros.md"}},
	}
	if !reflect.DeepEqual(s, want) {
		t.Errorf("import = %+v, want %+v", s, want)
	}
}

func TestImportLegacy_PathKeyed(t *testing.T) {
	blob := []byte(`{"preambles":[{"path":"p.md"}],"folderPreambles":[{"folderPath":"/","preamblePath":"gone.md"}]}`)
	s, err := ImportLegacy(blob)
	if err != nil {
		t.Fatalf("ImportLegacy: %v", err)
	}
	if len(s.Preambles) != 1 || s.Preambles[0].Path != "p.md" {
		t.Errorf("preambles = %+v", s.Preambles)
	}
	if len(s.FolderPreambles) != 1 || s.FolderPreambles[0].PreamblePath != "gone.md" {
		t.Errorf("dangling binding should survive import: %+v", s.FolderPreambles)
	}
}

func TestImportLegacy_InvalidJSON(t *testing.T) {
	if _, err := ImportLegacy([]byte("{not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
