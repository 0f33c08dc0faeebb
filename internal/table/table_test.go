package table_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/shpitdev/outreach-enricher/internal/table"
)

func TestRead_ResolvesIdentifierColumn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		csv   string
		want  string
		extra map[string]string
	}{
		{
			name: "website_column",
			csv:  "name,Website\nAcme,acme.example\n",
			want: "acme.example",
			extra: map[string]string{
				"name": "Acme",
			},
		},
		{
			name: "url_column_case_insensitive",
			csv:  "first_name,URL,email\nAda,https://ada.example,ada@ada.example\n",
			want: "https://ada.example",
			extra: map[string]string{
				"first_name": "Ada",
				"email":      "ada@ada.example",
			},
		},
		{
			name: "domain_beats_position",
			csv:  "notes,domain\nhello,beta.example\n",
			want: "beta.example",
		},
		{
			name: "fallback_first_column",
			csv:  "company_homepage\nhttps://gamma.example\n",
			want: "https://gamma.example",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := table.Read(strings.NewReader(tt.csv))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(items) != 1 {
				t.Fatalf("expected 1 item, got %d", len(items))
			}
			if items[0].Identifier != tt.want {
				t.Fatalf("identifier = %q, want %q", items[0].Identifier, tt.want)
			}
			for k, v := range tt.extra {
				if items[0].Passthrough[k] != v {
					t.Fatalf("passthrough[%q] = %q, want %q", k, items[0].Passthrough[k], v)
				}
			}
		})
	}
}

func TestRead_BlankIdentifierRowsKept(t *testing.T) {
	t.Parallel()

	items, err := table.Read(strings.NewReader("url\nexample.com\n\nopenai.com\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Blank line yields no record in CSV; an explicitly empty field does.
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	items, err = table.Read(strings.NewReader("url,name\nexample.com,a\n,b\nopenai.com,c\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[1].Identifier != "" || items[1].Passthrough["name"] != "b" {
		t.Fatalf("unexpected blank row: %#v", items[1])
	}
}

func TestRead_EmptyInputIsFatal(t *testing.T) {
	t.Parallel()

	if _, err := table.Read(strings.NewReader("")); !errors.Is(err, table.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
	if _, err := table.Read(strings.NewReader("url\n")); !errors.Is(err, table.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for header-only file, got %v", err)
	}
}
