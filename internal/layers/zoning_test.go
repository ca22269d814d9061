package layers_test

import (
	"testing"

	"github.com/joeblew999/plat-parcel/internal/layers"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		code string
		want layers.Category
	}{
		{"RS6", layers.Residential},
		{"rt4", layers.Residential},
		{" LB2 ", layers.Commercial},
		{"IH", layers.Industrial},
		{"C9A", layers.MixedUse},
		{"PD", layers.Special},
		{"ZZ9", layers.Special},
		{"Q", layers.Special},
		{"", layers.Special},
	}
	for _, tt := range tests {
		if got := layers.CategoryOf(tt.code); got != tt.want {
			t.Errorf("CategoryOf(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestColorOfFallsBackToSpecial(t *testing.T) {
	if got, want := layers.ColorOf("XX-FUTURE"), layers.CategoryColor(layers.Special); got != want {
		t.Fatalf("ColorOf(unknown) = %q, want %q", got, want)
	}
}

func TestHeightOrdering(t *testing.T) {
	order := []layers.Category{layers.Residential, layers.Special, layers.MixedUse, layers.Commercial, layers.Industrial}
	for i := 1; i < len(order); i++ {
		if layers.HeightOf(order[i-1]) >= layers.HeightOf(order[i]) {
			t.Fatalf("height(%s)=%v should be below height(%s)=%v",
				order[i-1], layers.HeightOf(order[i-1]), order[i], layers.HeightOf(order[i]))
		}
	}
}
