package search

import (
	"reflect"
	"testing"
)

func TestParsePgTextArray(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"{}", []string{}},
		{"{alice@example.com}", []string{"alice@example.com"}},
		{"{alice@example.com,bob@example.com}", []string{"alice@example.com", "bob@example.com"}},
		{`{"alice@example.com","bob@example.com"}`, []string{"alice@example.com", "bob@example.com"}},
	}
	for _, tc := range cases {
		got := parsePgTextArray(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parsePgTextArray(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
