package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/oriys/cartsync/internal/domain"
)

func cart() domain.CartState {
	return domain.CartState{}.
		WithAdded(domain.Product{ID: "P1", Name: "Mug", Price: 10}, 2).
		WithAdded(domain.Product{ID: "P2", Name: "Tea", Price: 2.5}, 1)
}

func printer(format Format) (*Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	p := NewPrinter(format)
	p.SetWriter(&buf)
	p.SetNoColor(true)
	return p, &buf
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"json": FormatJSON, "YML": FormatYAML, "wide": FormatWide, "": FormatTable, "xml": FormatTable}
	for in, want := range tests {
		if got := ParseFormat(in); got != want {
			t.Fatalf("ParseFormat(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestPrintCart_JSONCarriesTotals(t *testing.T) {
	p, buf := printer(FormatJSON)
	if err := p.PrintCart(cart()); err != nil {
		t.Fatal(err)
	}
	var view domain.CartView
	if err := json.Unmarshal(buf.Bytes(), &view); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if view.TotalItems != 3 || view.TotalPrice != 22.5 {
		t.Fatalf("totals = (%d, %v)", view.TotalItems, view.TotalPrice)
	}
}

func TestPrintCart_YAMLUsesWireNames(t *testing.T) {
	p, buf := printer(FormatYAML)
	if err := p.PrintCart(cart()); err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if out["totalItems"] != 3 {
		t.Fatalf("totalItems = %v\n%s", out["totalItems"], buf.String())
	}
}

func TestPrintCart_Table(t *testing.T) {
	p, buf := printer(FormatTable)
	if err := p.PrintCart(cart()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Mug", "Tea", "20.00", "Total: 3 items, 22.50"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintEmpty(t *testing.T) {
	p, buf := printer(FormatTable)
	p.PrintCart(domain.CartState{})
	p.PrintBookmarks(domain.BookmarkState{})
	p.PrintQueue(nil)
	out := buf.String()
	for _, want := range []string{"Cart is empty", "No bookmarks", "Offline queue is empty"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}

	p, buf = printer(FormatJSON)
	p.PrintQueue(nil)
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("empty queue JSON = %q", buf.String())
	}
}
