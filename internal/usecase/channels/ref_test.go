package channels

import (
	"errors"
	"testing"
)

func TestParseRef(t *testing.T) {
	cases := map[string]Ref{
		"@Example":              {Alias: "example"},
		"t.me/golang":           {Alias: "golang"},
		"https://t.me/FooCast/": {Alias: "foocast"},
		"  plainalias ":         {Alias: "plainalias"},
		"-1001234567890":        {ID: -1001234567890},
		"1234567890":            {ID: 1234567890},
	}
	for input, expected := range cases {
		ref, err := ParseRef(input)
		if err != nil {
			t.Fatalf("не ожидали ошибку для %q: %v", input, err)
		}
		if ref != expected {
			t.Fatalf("для %q ожидали %+v, получили %+v", input, expected, ref)
		}
	}
}

func TestParseRefInvalid(t *testing.T) {
	for _, input := range []string{"", "https://t.me/A", "t.me/a b", "0"} {
		if _, err := ParseRef(input); !errors.Is(err, ErrRefInvalid) {
			t.Fatalf("ожидали ErrRefInvalid для %q, получили %v", input, err)
		}
	}
}

func TestRefKey(t *testing.T) {
	if got := (Ref{Alias: "foo"}).Key(); got != "foo" {
		t.Fatalf("ожидали foo, получили %s", got)
	}
	if got := (Ref{ID: -1001}).Key(); got != "-1001" {
		t.Fatalf("ожидали -1001, получили %s", got)
	}
}
