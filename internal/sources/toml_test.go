package sources

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/router-for-me/ProxyPool/internal/entries"
	"github.com/router-for-me/ProxyPool/internal/models"
)

func TestExportTOMLOmitsTimestampsAndNils(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, errCreate := f.reg.Create(ctx, "alpha"); errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if errUpdate := f.reg.UpdateEntries(ctx, "alpha", []string{"1.1.1.1:80"}); errUpdate != nil {
		t.Fatalf("update entries: %v", errUpdate)
	}
	if errUpdate := f.reg.UpdateDefaults(ctx, "alpha", entries.Defaults{Port: ptr(3128)}); errUpdate != nil {
		t.Fatalf("update defaults: %v", errUpdate)
	}

	out, errExport := f.reg.ExportTOML(ctx)
	if errExport != nil {
		t.Fatalf("export: %v", errExport)
	}
	text := string(out)
	for _, want := range []string{"[[sources]]", "alpha", "default_port = 3128", "1.1.1.1:80"} {
		if !strings.Contains(text, want) {
			t.Fatalf("export missing %q:\n%s", want, text)
		}
	}
	for _, unwanted := range []string{"created_at", "checked_at", "default_username", "entries_url"} {
		if strings.Contains(text, unwanted) {
			t.Fatalf("export should not contain %q:\n%s", unwanted, text)
		}
	}
}

func TestImportTOMLUpserts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, errCreate := f.reg.Create(ctx, "existing"); errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}

	payload := `
[[sources]]
id = "existing"
default_protocol = "socks5"
default_port = 1080
entries = ["8.8.8.8"]

[[sources]]
id = "fresh"
entries_url = "https://lists.example/fresh.txt"
entries = []
`
	count, errImport := f.reg.ImportTOML(ctx, []byte(payload))
	if errImport != nil {
		t.Fatalf("import: %v", errImport)
	}
	if count != 2 {
		t.Fatalf("count=%d", count)
	}

	existing, errGet := f.reg.Get(ctx, "existing")
	if errGet != nil {
		t.Fatalf("get existing: %v", errGet)
	}
	if existing.DefaultProtocol == nil || *existing.DefaultProtocol != models.ProtocolSOCKS5 {
		t.Fatalf("default protocol=%v", existing.DefaultProtocol)
	}
	if existing.DefaultPort == nil || *existing.DefaultPort != 1080 {
		t.Fatalf("default port=%v", existing.DefaultPort)
	}
	if len(existing.Entries) != 1 || existing.Entries[0] != "8.8.8.8" {
		t.Fatalf("entries=%v", existing.Entries)
	}

	fresh, errGet := f.reg.Get(ctx, "fresh")
	if errGet != nil {
		t.Fatalf("get fresh: %v", errGet)
	}
	if fresh.EntriesURL == nil || *fresh.EntriesURL != "https://lists.example/fresh.txt" {
		t.Fatalf("entries url=%v", fresh.EntriesURL)
	}
}

func TestImportTOMLRejectsInvalidPayloadWithoutWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]string{
		"syntax":       "[[sources]\nid = ",
		"missing id":   "[[sources]]\nentries = []\n",
		"bad protocol": "[[sources]]\nid = \"ok\"\n\n[[sources]]\nid = \"bad\"\ndefault_protocol = \"ftp\"\n",
		"bad port":     "[[sources]]\nid = \"bad\"\ndefault_port = 0\n",
		"duplicate":    "[[sources]]\nid = \"twin\"\n\n[[sources]]\nid = \"twin\"\n",
	}
	for name, payload := range cases {
		if _, errImport := f.reg.ImportTOML(ctx, []byte(payload)); !errors.Is(errImport, ErrInvalidImport) {
			t.Fatalf("%s: expected ErrInvalidImport, got %v", name, errImport)
		}
	}

	rows, errList := f.reg.List(ctx)
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(rows) != 0 {
		t.Fatalf("invalid imports must not write, got %d sources", len(rows))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newFixture(t)
	ctx := context.Background()
	if _, errCreate := src.reg.Create(ctx, "round"); errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if errUpdate := src.reg.UpdateEntries(ctx, "round", []string{"1.2.3.4:8080"}); errUpdate != nil {
		t.Fatalf("update entries: %v", errUpdate)
	}
	out, errExport := src.reg.ExportTOML(ctx)
	if errExport != nil {
		t.Fatalf("export: %v", errExport)
	}

	dst := newFixture(t)
	if _, errImport := dst.reg.ImportTOML(ctx, out); errImport != nil {
		t.Fatalf("import: %v", errImport)
	}
	got, errGet := dst.reg.Get(ctx, "round")
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if len(got.Entries) != 1 || got.Entries[0] != "1.2.3.4:8080" {
		t.Fatalf("entries=%v", got.Entries)
	}
}
