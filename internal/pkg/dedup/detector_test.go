package dedup

import (
	"reflect"
	"testing"
)

func TestSplitIDs(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want []uint
	}{
		{"two ids", "12,7", []uint{12, 7}},
		{"single id", "42", []uint{42}},
		{"trailing comma", "3,9,", []uint{3, 9}},
		{"empty", "", nil},
		{"empty segment", "1,,2", []uint{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitIDs(tt.csv)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitIDs(%q) = %v, want %v", tt.csv, got, tt.want)
			}
		})
	}
}
