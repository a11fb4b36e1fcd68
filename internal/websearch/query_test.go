package websearch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQueryVariants_ShortQuery(t *testing.T) {
	variants := BuildQueryVariants("Go 并发")

	require.Len(t, variants, 5)
	assert.Equal(t, "Go 并发", variants[0])
	assert.Contains(t, variants, "Go 并发 中文")
	assert.Contains(t, variants, "Go 并发 资料")
}

func TestBuildQueryVariants_LongQueryHasNoPhrasingVariants(t *testing.T) {
	long := strings.Repeat("很长的问题", 20)
	variants := BuildQueryVariants(long)

	require.Len(t, variants, 5)
	for _, v := range variants {
		assert.NotContains(t, v, "是什么")
		assert.NotContains(t, v, "如何解决")
	}
}

func TestBuildQueryVariants_Deduplicates(t *testing.T) {
	variants := BuildQueryVariants("中文")

	seen := make(map[string]int)
	for _, v := range variants {
		seen[v]++
	}
	for v, n := range seen {
		assert.Equal(t, 1, n, "variant %q appeared %d times", v, n)
	}
	assert.LessOrEqual(t, len(variants), 5)
}

func TestBuildQueryVariants_EmptyQuery(t *testing.T) {
	assert.Empty(t, BuildQueryVariants(""))
	assert.Empty(t, BuildQueryVariants("   "))
}
