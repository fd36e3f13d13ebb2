package memory

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-zero/internal/domain"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		expr string
		want []Condition
	}{
		{expr: "", want: nil},
		{expr: "   ", want: nil},
		{expr: "area == 'solutions'", want: []Condition{{"area", "solutions"}}},
		{expr: `area=="main"`, want: []Condition{{"area", "main"}}},
		{
			expr: "area == 'instruments' AND source == 'user'",
			want: []Condition{{"area", "instruments"}, {"source", "user"}},
		},
		{expr: `note == 'it\'s'`, want: []Condition{{"note", "it's"}}},
		{expr: "meta.kind == ''", want: []Condition{{"meta.kind", ""}}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := ParseFilter(tt.expr)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, f.Conditions); diff != "" {
				t.Errorf("conditions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFilter_Invalid(t *testing.T) {
	for _, expr := range []string{
		"area",
		"area = 'x'",
		"area == x",
		"area == 'x",
		"area == 'x' or b == 'y'",
		"area == 'x' and",
		"area == 'x' andb == 'y'",
		"== 'x'",
	} {
		_, err := ParseFilter(expr)
		assert.ErrorIs(t, err, domain.ErrInvalidFilter, expr)
	}
}

func TestFilter_Match(t *testing.T) {
	f := MustParseFilter("area == 'solutions' and lang == 'go'")
	assert.True(t, f.Match(map[string]string{"area": "solutions", "lang": "go", "x": "y"}))
	assert.False(t, f.Match(map[string]string{"area": "solutions"}))
	assert.False(t, f.Match(map[string]string{"area": "main", "lang": "go"}))
	assert.True(t, Filter{}.Match(nil))
}

func TestFilter_Where(t *testing.T) {
	where, ok := MustParseFilter("area == 'main'").Where()
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"area": "main"}, where)

	_, ok = MustParseFilter("area == 'main' and area == 'solutions'").Where()
	assert.False(t, ok)

	where, ok = Filter{}.Where()
	assert.True(t, ok)
	assert.Nil(t, where)
}

func TestFilter_StringRoundTrip(t *testing.T) {
	f := MustParseFilter(`b == "x'y" and a == 'z'`)
	assert.Equal(t, `a == 'z' and b == 'x\'y'`, f.String())
	back, err := ParseFilter(f.String())
	require.NoError(t, err)
	assert.True(t, back.Match(map[string]string{"a": "z", "b": "x'y"}))
}

func TestMustParseFilter_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParseFilter("broken") })
}
