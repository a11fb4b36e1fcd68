package websearch

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

const (
	snippetMaxRunes = 300
	paragraphMinLen = 40
	paragraphMaxLen = 600
)

// boilerplatePattern matches navigation, copyright and consent text
// that should never be used as a snippet.
var boilerplatePattern = regexp.MustCompile(`导航|版权|免责声明|Cookie|隐私|登录|注册`)

// ExtractSnippet pulls a short description out of page HTML. It tries,
// in order: the meta description, og:description, twitter:description,
// a body paragraph inside <article>, and finally any suitable <p>.
// Returns "" when nothing usable is found.
func ExtractSnippet(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}

	for _, pick := range []func(*html.Node) string{
		metaContent("name", "description"),
		metaContent("property", "og:description"),
		metaContent("name", "twitter:description"),
		articleParagraph,
		anyParagraph,
	} {
		if s := pick(doc); s != "" {
			return truncateRunes(s, snippetMaxRunes)
		}
	}
	return ""
}

// metaContent matches <meta> tags whose attribute value contains the
// wanted name, case-insensitively.
func metaContent(attrKey, want string) func(*html.Node) string {
	return func(doc *html.Node) string {
		n := findFirst(doc, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "meta" &&
				strings.Contains(strings.ToLower(attr(n, attrKey)), want)
		})
		if n == nil {
			return ""
		}
		return strings.TrimSpace(attr(n, "content"))
	}
}

func articleParagraph(doc *html.Node) string {
	article := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "article"
	})
	if article == nil {
		return ""
	}
	return firstBodyParagraph(article)
}

func anyParagraph(doc *html.Node) string {
	return firstBodyParagraph(doc)
}

// firstBodyParagraph returns the first <p> under root whose text looks
// like article body rather than boilerplate.
func firstBodyParagraph(root *html.Node) string {
	for _, p := range findAll(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "p"
	}) {
		text := strings.TrimSpace(nodeText(p))
		if text == "" {
			continue
		}
		if boilerplatePattern.MatchString(text) {
			continue
		}
		if n := len([]rune(text)); n >= paragraphMinLen && n <= paragraphMaxLen {
			return text
		}
	}
	return ""
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

var cjkPattern = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)

// IsChineseText reports whether text reads as Chinese: at least 8 CJK
// characters making up at least 5% of the text.
func IsChineseText(text string) bool {
	if text == "" {
		return false
	}
	count := len(cjkPattern.FindAllString(text, -1))
	total := len([]rune(text))
	if total == 0 {
		return false
	}
	return count >= 8 && float64(count)/float64(total) >= 0.05
}
