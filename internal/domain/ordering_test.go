package domain

import "testing"

func TestGetOrdering(t *testing.T) {
	tests := []struct {
		sort    string
		reverse bool
		want    string
	}{
		{"file", false, "name asc"},
		{"file", true, "name desc"},
		{"", false, "dateModified asc"},
		{"", true, "dateModified desc"},
		{"size", false, "dateModified asc"},
		{"tstamp", true, "dateModified desc"},
		{"fileext", false, "dateModified asc"},
		{"rw", false, "dateModified asc"},
		{"File", false, "dateModified asc"},
	}

	for _, tt := range tests {
		t.Run(tt.sort, func(t *testing.T) {
			got := GetOrdering(tt.sort, tt.reverse).String()
			if got != tt.want {
				t.Errorf("GetOrdering(%q, %v) = %q, want %q", tt.sort, tt.reverse, got, tt.want)
			}
		})
	}
}

func TestOrdering_ZeroValue(t *testing.T) {
	if got := (Ordering{}).String(); got != "dateModified asc" {
		t.Errorf("Ordering{}.String() = %q, want %q", got, "dateModified asc")
	}
	if DefaultOrdering.String() != "dateModified asc" {
		t.Errorf("DefaultOrdering = %q", DefaultOrdering.String())
	}
}
