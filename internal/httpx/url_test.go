package httpx

import "testing"

func TestParseRequestTarget_OriginForm(t *testing.T) {
	u, err := ParseRequestTarget("/api/v1/file/info?x=1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/api/v1/file/info" || u.RawQuery != "x=1" {
		t.Fatalf("wrong origin-form parse: %+v", u)
	}
}

func TestParseRequestTarget_NoQuery(t *testing.T) {
	u, err := ParseRequestTarget("/api/v1/ping")
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/api/v1/ping" || u.RawQuery != "" {
		t.Fatalf("wrong parse: %+v", u)
	}
}

func TestParseRequestTarget_Invalid(t *testing.T) {
	cases := []string{
		"",
		" bad",
		"/path with space",
		"http://example.com/a",
		"relative/path",
	}
	for _, raw := range cases {
		if _, err := ParseRequestTarget(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery("path=%2Ftmp%2Fx&a=1&a=2")
	if err != nil {
		t.Fatal(err)
	}
	if q["path"] != "/tmp/x" {
		t.Fatalf("path = %q", q["path"])
	}
	if q["a"] != "2" {
		t.Fatalf("repeated key should keep last value, got %q", q["a"])
	}
}

func TestParseQuery_Empty(t *testing.T) {
	q, err := ParseQuery("")
	if err != nil {
		t.Fatal(err)
	}
	if len(q) != 0 {
		t.Fatalf("expected empty map, got %#v", q)
	}
}
