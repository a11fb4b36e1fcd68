package websearch

import "strings"

// maxQueryVariants caps how many rewritten queries one search fans out to.
const maxQueryVariants = 5

// shortQueryRunes is the cutoff below which phrasing variants are added.
const shortQueryRunes = 64

// BuildQueryVariants rewrites a query into up to five deduplicated
// variants: the original, Chinese-language hints, and for short
// queries two common phrasings.
func BuildQueryVariants(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	candidates := []string{
		query,
		query + " 中文",
		query + " 资料",
		query + " 问题解答",
		query + " 教程",
	}
	if len([]rune(query)) <= shortQueryRunes {
		candidates = append(candidates, query+" 是什么", query+" 如何解决")
	}

	seen := make(map[string]struct{}, len(candidates))
	variants := make([]string, 0, maxQueryVariants)
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		variants = append(variants, c)
		if len(variants) == maxQueryVariants {
			break
		}
	}
	return variants
}
