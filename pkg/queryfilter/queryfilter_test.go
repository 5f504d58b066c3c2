package queryfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubRecord map[string]any

func (r stubRecord) Field(name string) any { return r[name] }

func TestMatch_EmptyFilterIsIdentity(t *testing.T) {
	r := stubRecord{"name": "anything"}
	assert.True(t, Match(Filter{}, r))
}

func TestMatch_EqualsCaseInsensitive(t *testing.T) {
	r := stubRecord{"name": "Hello"}
	f := Filter{"name": {Op: Equals, Value: "hello"}}
	assert.True(t, Match(f, r))
}

func TestMatch_EqualsNumeric(t *testing.T) {
	r := stubRecord{"count": float64(3)}
	f := Filter{"count": {Op: Equals, Value: float64(3)}}
	assert.True(t, Match(f, r))
}

func TestMatch_Contains(t *testing.T) {
	r := stubRecord{"name": "the-great-project"}
	f := Filter{"name": {Op: Contains, Value: "GREAT"}}
	assert.True(t, Match(f, r))
}

func TestMatch_OneOf(t *testing.T) {
	r := stubRecord{"status": "Defined"}
	f := Filter{"status": {Op: OneOf, Value: []any{"Assigned", "Defined"}}}
	assert.True(t, Match(f, r))

	f2 := Filter{"status": {Op: OneOf, Value: []any{"Assigned", "InProgress"}}}
	assert.False(t, Match(f2, r))
}

func TestMatch_ConjunctiveAcrossFields(t *testing.T) {
	r := stubRecord{"name": "p", "status": "Defined"}
	f := Filter{
		"name":   {Op: Equals, Value: "p"},
		"status": {Op: Equals, Value: "Assigned"},
	}
	assert.False(t, Match(f, r))
}

func TestMatch_BeforeAfterLexicographic(t *testing.T) {
	r := stubRecord{"register_date": "2024-06-01T00:00:00Z"}
	assert.True(t, Match(Filter{"register_date": {Op: Before, Value: "2024-07-01T00:00:00Z"}}, r))
	assert.True(t, Match(Filter{"register_date": {Op: After, Value: "2024-05-01T00:00:00Z"}}, r))
}

func TestSort_AscendingDescending(t *testing.T) {
	records := []stubRecord{
		{"id": "b"}, {"id": "a"}, {"id": "c"},
	}
	Sort(records, SearchOptions{SortField: "id", SortMode: Ascending})
	assert.Equal(t, "a", records[0]["id"])

	Sort(records, SearchOptions{SortField: "id", SortMode: Descending})
	assert.Equal(t, "c", records[0]["id"])
}

func TestPaginate_AppliedAfterFilterAndSort(t *testing.T) {
	records := []int{1, 2, 3, 4, 5}
	page := Paginate(records, SearchOptions{PageNumber: 2, PageSize: 2})
	assert.Equal(t, []int{3, 4}, page)
}

func TestPaginate_PastEndReturnsEmpty(t *testing.T) {
	records := []int{1, 2}
	page := Paginate(records, SearchOptions{PageNumber: 5, PageSize: 2})
	assert.Empty(t, page)
}

func TestNormalize_Defaults(t *testing.T) {
	opts := SearchOptions{}.Normalize()
	assert.Equal(t, 1, opts.PageNumber)
	assert.Equal(t, 20, opts.PageSize)
	assert.Equal(t, "id", opts.SortField)
	assert.Equal(t, Ascending, opts.SortMode)
}
