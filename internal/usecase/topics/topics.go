// Package topics — детерминированная лексическая разметка текста
// по статическому словарю тем. Никаких внешних зависимостей: словарь
// вшит в код, совпадения считаются по целым словам.
package topics

import (
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// MaxTopics ограничивает размер списка тем одного текста.
const MaxTopics = 7

// topic — каноническое имя плюс поверхностные формы (включая
// транслитерации). Порядок словаря фиксирует разрешение ничьих:
// он стабилен, но семантики не несёт.
type topic struct {
	Canonical string
	Aliases   []string
	Related   []string
}

var dictionary = []topic{
	{Canonical: "Go", Aliases: []string{"go", "golang", "голанг"}, Related: []string{"Backend"}},
	{Canonical: "Python", Aliases: []string{"python", "питон", "пайтон"}, Related: []string{"Backend", "ML"}},
	{Canonical: "JavaScript", Aliases: []string{"javascript", "js", "джаваскрипт"}, Related: []string{"Frontend"}},
	{Canonical: "TypeScript", Aliases: []string{"typescript", "ts", "тайпскрипт"}, Related: []string{"Frontend"}},
	{Canonical: "Rust", Aliases: []string{"rust", "раст"}, Related: []string{"Backend"}},
	{Canonical: "Docker", Aliases: []string{"docker", "докер"}, Related: []string{"DevOps", "Kubernetes"}},
	{Canonical: "Kubernetes", Aliases: []string{"kubernetes", "k8s", "кубернетес", "кубер"}, Related: []string{"DevOps", "Docker"}},
	{Canonical: "DevOps", Aliases: []string{"devops", "девопс", "ci/cd", "cicd"}, Related: []string{"Docker", "Kubernetes"}},
	{Canonical: "PostgreSQL", Aliases: []string{"postgresql", "postgres", "постгрес"}, Related: []string{"Databases"}},
	{Canonical: "Redis", Aliases: []string{"redis", "редис"}, Related: []string{"Databases"}},
	{Canonical: "Databases", Aliases: []string{"database", "databases", "sql", "бд", "база данных", "базы данных"}, Related: []string{"PostgreSQL", "Redis"}},
	{Canonical: "ML", Aliases: []string{"ml", "machine learning", "машинное обучение", "нейросеть", "нейросети"}, Related: []string{"AI", "Python"}},
	{Canonical: "AI", Aliases: []string{"ai", "ии", "искусственный интеллект", "llm", "gpt", "chatgpt"}, Related: []string{"ML"}},
	{Canonical: "Security", Aliases: []string{"security", "безопасность", "уязвимость", "уязвимости", "cve"}, Related: []string{}},
	{Canonical: "Crypto", Aliases: []string{"crypto", "blockchain", "блокчейн", "биткоин", "bitcoin", "ethereum"}, Related: []string{}},
	{Canonical: "Frontend", Aliases: []string{"frontend", "фронтенд", "react", "vue", "angular", "css"}, Related: []string{"JavaScript", "TypeScript"}},
	{Canonical: "Backend", Aliases: []string{"backend", "бэкенд", "бекенд", "api", "микросервис", "микросервисы"}, Related: []string{"Go", "Databases"}},
	{Canonical: "Mobile", Aliases: []string{"mobile", "android", "ios", "мобильная разработка", "swift", "kotlin"}, Related: []string{}},
	{Canonical: "Cloud", Aliases: []string{"cloud", "aws", "gcp", "azure", "облако", "облачный"}, Related: []string{"DevOps"}},
	{Canonical: "Linux", Aliases: []string{"linux", "линукс", "unix", "bash"}, Related: []string{"DevOps"}},
	{Canonical: "Testing", Aliases: []string{"testing", "тестирование", "тесты", "qa", "автотесты"}, Related: []string{}},
	{Canonical: "Startups", Aliases: []string{"startup", "startups", "стартап", "стартапы", "инвестиции"}, Related: []string{}},
	{Canonical: "Management", Aliases: []string{"management", "менеджмент", "тимлид", "agile", "scrum"}, Related: []string{}},
	{Canonical: "Career", Aliases: []string{"career", "карьера", "собеседование", "собеседования", "резюме"}, Related: []string{}},
	{Canonical: "News", Aliases: []string{"news", "новости", "релиз", "релизы", "анонс"}, Related: []string{}},
}

// aliasPatterns скомпилированы один раз: шаблон ловит алиас как целое
// слово, границы — любые не-буквенно-цифровые символы или края строки.
var aliasPatterns = buildPatterns()

type aliasPattern struct {
	canonical string
	order     int
	re        *regexp.Regexp
}

func buildPatterns() []aliasPattern {
	patterns := make([]aliasPattern, 0, len(dictionary)*3)
	for i, t := range dictionary {
		for _, alias := range t.Aliases {
			escaped := regexp.QuoteMeta(strings.ToLower(alias))
			re := regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}])` + escaped + `($|[^\p{L}\p{N}])`)
			patterns = append(patterns, aliasPattern{canonical: t.Canonical, order: i, re: re})
		}
	}
	return patterns
}

// Extract возвращает до MaxTopics канонических тем текста, отранжированных
// по числу вхождений. Ничьи разрешаются порядком словаря.
func Extract(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	counts := map[string]int{}
	orders := map[string]int{}
	for _, p := range aliasPatterns {
		n := countOverlapping(p.re, text)
		if n == 0 {
			continue
		}
		counts[p.canonical] += n
		if _, ok := orders[p.canonical]; !ok {
			orders[p.canonical] = p.order
		}
	}
	if len(counts) == 0 {
		return nil
	}

	found := lo.Keys(counts)
	sort.Slice(found, func(i, j int) bool {
		if counts[found[i]] != counts[found[j]] {
			return counts[found[i]] > counts[found[j]]
		}
		return orders[found[i]] < orders[found[j]]
	})
	if len(found) > MaxTopics {
		found = found[:MaxTopics]
	}
	return found
}

// countOverlapping считает вхождения с перекрытием границ: «docker,k8s»
// должен дать оба совпадения, хотя запятая входит в обе границы.
func countOverlapping(re *regexp.Regexp, text string) int {
	count := 0
	offset := 0
	for offset <= len(text) {
		loc := re.FindStringIndex(text[offset:])
		if loc == nil {
			break
		}
		count++
		// Сдвиг на конец самого алиаса, а не совпадения: замыкающая
		// граница может открывать следующее вхождение.
		next := offset + loc[1] - 1
		if next <= offset {
			next = offset + loc[1]
		}
		offset = next
	}
	return count
}

// Normalize приводит поверхностную форму к каноническому имени.
// Неизвестная форма возвращается с обрезанными пробелами как есть.
func Normalize(raw string) string {
	needle := strings.ToLower(strings.TrimSpace(raw))
	if needle == "" {
		return ""
	}
	for _, t := range dictionary {
		if strings.ToLower(t.Canonical) == needle {
			return t.Canonical
		}
		if lo.Contains(t.Aliases, needle) {
			return t.Canonical
		}
	}
	return strings.TrimSpace(raw)
}

// IsKnown сообщает, есть ли форма в словаре.
func IsKnown(raw string) bool {
	needle := strings.ToLower(strings.TrimSpace(raw))
	if needle == "" {
		return false
	}
	for _, t := range dictionary {
		if strings.ToLower(t.Canonical) == needle || lo.Contains(t.Aliases, needle) {
			return true
		}
	}
	return false
}

// Related возвращает связанные темы канонической темы.
func Related(canonical string) []string {
	name := Normalize(canonical)
	for _, t := range dictionary {
		if t.Canonical == name {
			return append([]string(nil), t.Related...)
		}
	}
	return nil
}
