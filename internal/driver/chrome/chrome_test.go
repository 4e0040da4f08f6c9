package chrome

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/Iron-Ham/formrunner/internal/config"
	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/errors"
)

func TestParseBaseURL(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"https://portal.example.com", false},
		{"http://localhost:8080/app/", false},
		{"", true},
		{"   ", true},
		{"portal.example.com", true},
		{"ftp://portal.example.com", true},
		{"https://", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := parseBaseURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseBaseURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("error %v is not an input error", err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	base, _ := url.Parse("https://portal.example.com/app/")
	tests := []struct {
		name string
		path string
		vals map[string]string
		want string
	}{
		{"absolute path", "/report/{target}/macros/new", map[string]string{"target": "r-1"}, "https://portal.example.com/report/r-1/macros/new"},
		{"relative path", "macros/{id}", map[string]string{"id": "42"}, "https://portal.example.com/app/macros/42"},
		{"escaped value", "/macros/{id}/edit", map[string]string{"id": "a b/c"}, "https://portal.example.com/macros/a%20b%2Fc/edit"},
		{"no placeholder", "/home", nil, "https://portal.example.com/home"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolve(base, tt.path, tt.vals); got != tt.want {
				t.Errorf("resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestFieldsOf(t *testing.T) {
	single := []driver.Payload{json.RawMessage(`{"value":12.5,"name":"Pump","note":null,"tags":["a"]}`)}
	got, err := fieldsOf(`[name="%s"]`, single)
	if err != nil {
		t.Fatalf("fieldsOf error = %v", err)
	}
	want := []field{
		{`[name="name"]`, "Pump"},
		{`[name="note"]`, ""},
		{`[name="tags"]`, `["a"]`},
		{`[name="value"]`, "12.5"},
	}
	if len(got) != len(want) {
		t.Fatalf("fieldsOf = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFieldsOf_BulkRows(t *testing.T) {
	rows := []driver.Payload{
		json.RawMessage(`{"name":"a"}`),
		json.RawMessage(`{"name":"b"}`),
	}
	got, err := fieldsOf(`#%s`, rows)
	if err != nil {
		t.Fatalf("fieldsOf error = %v", err)
	}
	if len(got) != 2 || got[0].Selector != "#name[0]" || got[1].Selector != "#name[1]" || got[1].Value != "b" {
		t.Errorf("fieldsOf = %+v, want one indexed field per row", got)
	}
}

func TestFieldsOf_RejectsNonObjects(t *testing.T) {
	_, err := fieldsOf(`#%s`, []driver.Payload{json.RawMessage(`[1,2]`)})
	if err == nil || !strings.Contains(err.Error(), "payloads[0]") {
		t.Errorf("error = %v, want a payloads[0] validation error", err)
	}
}

func TestScripts_QuoteSelectors(t *testing.T) {
	sel := `input[name="a"]`
	for name, js := range map[string]string{
		"exists":   existsJS(sel),
		"texts":    textsJS(sel),
		"recordID": recordIDJS(sel),
		"fill":     fillJS(sel, `it's "quoted"`),
	} {
		if !strings.Contains(js, `"input[name=\"a\"]"`) {
			t.Errorf("%s script does not embed the quoted selector:\n%s", name, js)
		}
	}
	if !strings.Contains(fillJS("#x", `say "hi"`), `"say \"hi\""`) {
		t.Error("fill script does not quote the value")
	}
}

func TestNew(t *testing.T) {
	cfg := config.Default()
	if _, err := New(OptionsFromConfig(cfg), nil); err == nil {
		t.Fatal("New without base url should fail")
	}

	cfg.Driver.BaseURL = "https://portal.example.com"
	d, err := New(OptionsFromConfig(cfg), nil)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	defer d.Close()

	if d.opts.ReadyTimeout != cfg.Submit.CallTimeout() {
		t.Errorf("ReadyTimeout = %v, want the call timeout", d.opts.ReadyTimeout)
	}

	// Unknown sessions fail without launching a browser.
	h := driver.SessionHandle{ID: "tab-9", TargetID: "r-1"}
	if err := d.FillFields(context.Background(), h, nil); !errors.Is(err, errors.ErrSessionUnavailable) {
		t.Errorf("FillFields on unknown session error = %v, want ErrSessionUnavailable", err)
	}
	if _, err := d.Save(context.Background(), h); !errors.Is(err, errors.ErrSessionUnavailable) {
		t.Errorf("Save on unknown session error = %v, want ErrSessionUnavailable", err)
	}
	d.ReleaseSession(h)
}
