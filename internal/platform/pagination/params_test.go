package pagination

import (
	"errors"
	"net/url"
	"testing"
)

func TestParsePage(t *testing.T) {
	bounds := Bounds{DefaultLimit: 20, MaxLimit: 100}
	tests := []struct {
		name    string
		query   string
		want    Page
		wantErr bool
	}{
		{name: "defaults", query: "", want: Page{Page: 1, Limit: 20}},
		{name: "explicit", query: "page=3&limit=5", want: Page{Page: 3, Limit: 5}},
		{name: "clamped", query: "limit=500", want: Page{Page: 1, Limit: 100}},
		{name: "zero page", query: "page=0", wantErr: true},
		{name: "garbage", query: "limit=ten", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			values, _ := url.ParseQuery(tc.query)
			got, err := ParsePage(values, bounds)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidParam) {
					t.Fatalf("expected ErrInvalidParam, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestParseOffset(t *testing.T) {
	bounds := Bounds{DefaultLimit: 10, MaxLimit: 50}

	values, _ := url.ParseQuery("limit=80&offset=20")
	got, err := ParseOffset(values, bounds)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Limit != 50 || got.Offset != 20 {
		t.Fatalf("unexpected offset params %+v", got)
	}

	values, _ = url.ParseQuery("offset=-1")
	if _, err := ParseOffset(values, bounds); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("expected negative offset to be rejected, got %v", err)
	}
}
