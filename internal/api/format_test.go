package api

import "testing"

func TestNegotiateFormatQueryParamWins(t *testing.T) {
	f := NegotiateFormat(
		map[string]string{"f": "html"},
		map[string]string{"Accept": "application/json"},
	)
	if f != FormatHTML {
		t.Fatalf("got %q, want html", f)
	}
}

func TestNegotiateFormatInvalidQueryParamKeptVerbatim(t *testing.T) {
	f := NegotiateFormat(map[string]string{"f": "foo"}, nil)
	if f != Format("foo") {
		t.Fatalf("got %q, want foo", f)
	}
	if allowed(f, nil) {
		t.Fatal("foo should not pass the base allow-list")
	}
}

func TestNegotiateFormatAcceptHeader(t *testing.T) {
	cases := []struct {
		accept string
		want   Format
	}{
		{"text/html", FormatHTML},
		{"application/ld+json", FormatJSONLD},
		{"application/json", FormatJSON},
		{"application/json, text/html;q=0.9", FormatHTML},
		{"TEXT/HTML", FormatHTML},
		{"image/png", FormatNone},
		{"", FormatNone},
	}
	for _, c := range cases {
		got := NegotiateFormat(nil, map[string]string{"Accept": c.accept})
		if got != c.want {
			t.Errorf("accept %q: got %q, want %q", c.accept, got, c.want)
		}
	}
}

func TestNegotiateFormatLowercaseHeaderKey(t *testing.T) {
	f := NegotiateFormat(nil, map[string]string{"accept": "text/html"})
	if f != FormatHTML {
		t.Fatalf("got %q, want html", f)
	}
}

func TestAllowedWithExtraFormats(t *testing.T) {
	if !allowed(Format("csv"), []string{"csv"}) {
		t.Fatal("csv should be allowed when registered")
	}
	if allowed(Format("csv"), nil) {
		t.Fatal("csv should be rejected without a formatter")
	}
	if !allowed(FormatNone, nil) {
		t.Fatal("unresolved format is always allowed")
	}
}

func TestEffectiveDefaultsToJSON(t *testing.T) {
	if effective(FormatNone) != FormatJSON {
		t.Fatal("unresolved format should default to json")
	}
	if effective(FormatHTML) != FormatHTML {
		t.Fatal("resolved format should pass through")
	}
}
