package tools_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-yaml"

	"github.com/tablefinder/tablefinder/pkg/tools"
)

func dataset(t *testing.T, base string) *tools.Dataset {
	t.Helper()
	d, err := tools.LoadDataset(tools.DefaultDataset, base)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDatasetFind(t *testing.T) {
	d := dataset(t, "")
	if d.Len() < tools.DefaultCount {
		t.Fatalf("dataset too small: %d", d.Len())
	}
	tests := []struct {
		location string
		count    int
		want     int
	}{
		{"New York", 5, 5},
		{"NY", 0, tools.DefaultCount},
		{"new york city", 2, 2},
		{"Brooklyn, NY", 100, d.Len()},
		{"San Francisco", 5, 0},
	}
	for _, tt := range tests {
		got := d.Find("chinese", tt.location, tt.count)
		if len(got) != tt.want {
			t.Errorf("Find(%q, %d) = %d items, want %d", tt.location, tt.count, len(got), tt.want)
		}
		if got == nil {
			t.Errorf("Find(%q) returned nil, want empty slice", tt.location)
		}
	}
}

func TestDatasetBaseURL(t *testing.T) {
	d := dataset(t, "https://cdn.example.com/")
	for _, r := range d.Find("", "NY", 100) {
		if !strings.HasPrefix(r.ImageURL, "https://cdn.example.com/static/") {
			t.Errorf("ImageURL = %q", r.ImageURL)
		}
	}
}

func TestGetRestaurantsTool(t *testing.T) {
	tool, err := tools.GetRestaurants(dataset(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if tool.Name != "get_restaurants" {
		t.Errorf("Name = %q", tool.Name)
	}
	out, err := tool.Invoke(context.Background(), nil, `{"cuisine":"chinese","location":"NY","count":3}`)
	if err != nil {
		t.Fatal(err)
	}
	var items []tools.Restaurant
	if err := json.Unmarshal([]byte(out.(string)), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 || items[0].Name == "" {
		t.Errorf("items = %+v", items)
	}

	out, err = tool.Invoke(context.Background(), nil, `{"cuisine":"thai","location":"Paris"}`)
	if err != nil {
		t.Fatal(err)
	}
	if out.(string) != "[]" {
		t.Errorf("out = %v, want []", out)
	}
}

func TestMakeReservationTool(t *testing.T) {
	tool, err := tools.MakeReservation()
	if err != nil {
		t.Fatal(err)
	}
	out, err := tool.Invoke(context.Background(), nil,
		`{"restaurant_name":"Han Dynasty","people":4,"special_instructions":"window seat"}`)
	if err != nil {
		t.Fatal(err)
	}
	want := "Table booked at Han Dynasty for 4 people with special details added about: window seat"
	if out != want {
		t.Errorf("out = %q, want %q", out, want)
	}
}

func TestHTTPToolPost(t *testing.T) {
	t.Setenv("TABLEFINDER_TEST_TOKEN", "secret")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != `{"q":"chinese"}` {
			t.Errorf("body = %s", b)
		}
		w.Write([]byte(`{"data":{"places":[{"name":"A"},{"name":"B"}]}}`))
	}))
	defer srv.Close()

	reqJQ, err := tools.ParseJQ(`{q: .cuisine}`)
	if err != nil {
		t.Fatal(err)
	}
	respJQ, err := tools.ParseJQ(`[.data.places[].name]`)
	if err != nil {
		t.Fatal(err)
	}
	tool, err := tools.NewHTTPTool(srv.Client()).FuncTool(&tools.HTTPToolConfig{
		Name:        "search_places",
		Description: "search",
		Endpoint:    srv.URL,
		BearerToken: "${TABLEFINDER_TEST_TOKEN}",
		ReqBodyJQ:   reqJQ,
		RespBodyJQ:  respJQ,
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := tool.Invoke(context.Background(), nil, `{"cuisine":"chinese"}`)
	if err != nil {
		t.Fatal(err)
	}
	names, ok := out.([]any)
	if !ok || len(names) != 2 || names[0] != "A" {
		t.Errorf("out = %#v", out)
	}
}

func TestHTTPToolGetQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("city") != "NY" || r.URL.Query().Get("limit") != "3" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tool, err := tools.NewHTTPTool(srv.Client()).FuncTool(&tools.HTTPToolConfig{
		Name:     "lookup",
		Method:   "get",
		Endpoint: srv.URL,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"city": map[string]any{"type": "string"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if tool.Argument == nil || tool.Argument.Properties["city"] == nil {
		t.Errorf("Argument = %+v", tool.Argument)
	}
	out, err := tool.Invoke(context.Background(), nil, `{"city":"NY","limit":3}`)
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := out.(map[string]any); !ok || m["ok"] != true {
		t.Errorf("out = %#v", out)
	}
}

func TestHTTPToolStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	tool, err := tools.NewHTTPTool(srv.Client()).FuncTool(&tools.HTTPToolConfig{Name: "x", Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	_, err = tool.Invoke(context.Background(), nil, `{}`)
	if err == nil || !strings.Contains(err.Error(), "http status 502") {
		t.Errorf("err = %v", err)
	}
}

func TestHTTPToolConfigValidate(t *testing.T) {
	tests := []tools.HTTPToolConfig{
		{Endpoint: "http://x"},
		{Name: "x"},
		{Name: "x", Endpoint: "http://x", Method: "TRACE"},
	}
	for _, c := range tests {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil", c)
		}
	}
}

func TestHTTPToolConfigYAML(t *testing.T) {
	src := `
name: menu
endpoint: https://example.com/menu
method: GET
resp_body_jq: '.items'
`
	var c tools.HTTPToolConfig
	if err := yaml.Unmarshal([]byte(src), &c); err != nil {
		t.Fatal(err)
	}
	if c.RespBodyJQ == nil || c.RespBodyJQ.Query == nil || c.RespBodyJQ.Expr != ".items" {
		t.Errorf("RespBodyJQ = %+v", c.RespBodyJQ)
	}

	bad := "name: x\nendpoint: y\nreq_body_jq: '{'\n"
	if err := yaml.Unmarshal([]byte(bad), &c); err == nil {
		t.Error("expected jq parse error")
	}
}

func TestRegistry(t *testing.T) {
	r, err := tools.Builtin(dataset(t, ""), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(r.Names(), ","); got != "get_restaurants,make_reservation" {
		t.Errorf("Names() = %s", got)
	}
	sel, err := r.Select("make_reservation")
	if err != nil || len(sel) != 1 || sel[0].Name != "make_reservation" {
		t.Errorf("Select = %v, %v", sel, err)
	}
	if _, err := r.Select("nope"); err == nil {
		t.Error("expected unknown tool error")
	}
	mr, _ := r.Get("make_reservation")
	if err := r.Add(mr); err == nil {
		t.Error("expected duplicate error")
	}
}
