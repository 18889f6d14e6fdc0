package ipx800

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseUpdate(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    Update
		wantErr bool
	}{
		{name: "on", query: "state=1&index=3", want: Update{Index: 3, On: true}},
		{name: "off", query: "state=0&index=8", want: Update{Index: 8, On: false}},
		{name: "first channel", query: "index=1&state=1", want: Update{Index: 1, On: true}},
		{name: "extra params ignored", query: "state=1&index=2&foo=bar", want: Update{Index: 2, On: true}},
		{name: "missing state", query: "index=3", wantErr: true},
		{name: "missing index", query: "state=1", wantErr: true},
		{name: "empty query", query: "", wantErr: true},
		{name: "empty state", query: "state=&index=3", wantErr: true},
		{name: "state not binary", query: "state=2&index=3", wantErr: true},
		{name: "state word", query: "state=on&index=3", wantErr: true},
		{name: "index zero", query: "state=1&index=0", wantErr: true},
		{name: "index nine", query: "state=1&index=9", wantErr: true},
		{name: "index not a number", query: "state=1&index=abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("ParseQuery: %v", err)
			}

			got, err := ParseUpdate(q)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidWebhookRequest) {
					t.Fatalf("ParseUpdate(%q) error = %v, want ErrInvalidWebhookRequest", tt.query, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUpdate(%q) unexpected error: %v", tt.query, err)
			}
			if got != tt.want {
				t.Errorf("ParseUpdate(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}
