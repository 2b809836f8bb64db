package agent

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pavelanni/tutor/internal/model"
)

// Intent is what a message asks the agent to do.
type Intent string

const (
	IntentSubmit Intent = "submit"
	IntentView   Intent = "view"
	IntentCreate Intent = "create"
	IntentGraph  Intent = "graph"
)

// rule matches an intent by whole-word keywords or regular expressions on
// the lower-cased message.
type rule struct {
	keywords []string
	patterns []*regexp.Regexp
}

func (r rule) match(lower string) bool {
	for _, k := range r.keywords {
		if containsWord(lower, k) {
			return true
		}
	}
	for _, p := range r.patterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

var rules = map[Intent]rule{
	IntentSubmit: {
		keywords: []string{"nộp bài", "nộp đề", "nộp", "submit", "answer"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(\d+\s*-\s*[a-d]\s*,?\s*){10,}`),
		},
	},
	IntentView: {
		keywords: []string{
			"xem lại đề", "nhắc lại đề", "xem đề", "hiển thị đề",
			"cho tôi xem đề", "cho em xem đề", "cho mình xem đề",
			"đề nào", "đề gì", "bài thi nào", "bài kiểm tra nào",
			"show quiz", "view quiz", "display quiz",
			"xem bài", "xem lại bài", "nhắc bài", "đọc lại đề",
		},
	},
	IntentCreate: {
		keywords: []string{
			"tạo đề", "ra đề", "đề thi", "bài kiểm tra",
			"quiz", "test",
			"trắc nghiệm", "15 phút", "30 phút",
			"kiểm tra", "bài thi",
			"cho tôi bài", "cho em bài", "cho mình bài",
			"cho tôi đề", "cho em đề", "cho mình đề",
			"tạo bài", "ra bài", "làm bài",
			"muốn bài", "cần bài", "muốn đề", "cần đề",
		},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`cho\s+(tôi|em|mình)\s+(một|1)?\s*(bài|đề)`),
			regexp.MustCompile(`(tạo|ra|làm)\s+(cho\s+)?(tôi|em|mình)?\s*(một|1)?\s*(bài|đề)`),
			regexp.MustCompile(`(muốn|cần|được)\s+(làm|có)?\s*(bài|đề)`),
		},
	},
	IntentGraph: {
		keywords: []string{"vẽ đồ thị", "vẽ đồ", "đồ thị", "graph", "plot", "vẽ hàm"},
	},
}

// Matches reports whether query expresses intent.
func Matches(intent Intent, query string) bool {
	r, ok := rules[intent]
	if !ok {
		return false
	}
	return r.match(strings.ToLower(query))
}

// offDomain lists topics outside the four supported subjects. They are
// matched as whole words. Words that also occur in science questions
// (đạo hàm, chạy trên sông, phân li độc lập, hiđrocacbon thơm) are left out.
var offDomain = []string{
	// history
	"bác hồ", "hồ chí minh", "lịch sử", "chiến tranh", "cách mạng",
	"năm nào", "thế kỷ", "triều đại", "vua", "hoàng đế",
	"cổ đại", "trung đại", "cận đại", "phong kiến",
	"thống nhất", "đế quốc", "thuộc địa",
	// literature
	"văn học", "bài thơ", "ca dao", "tục ngữ", "truyện", "tiểu thuyết",
	"tác giả", "tác phẩm", "nhà văn", "nhà thơ", "chữ hán",
	"truyền kỳ", "ngôn tình", "cổ tích", "thần thoại", "truyền thuyết",
	"văn xuôi", "văn vần", "luận điểm", "nghệ thuật", "tu từ",
	"chiếc lược ngà", "vợ chồng a phủ", "chí phèo", "lão hạc",
	// geography
	"địa lý", "địa hình", "khí hậu", "ôn đới",
	"châu lục", "lục địa", "đại dương",
	"đồng bằng", "cao nguyên", "thủ đô", "tỉnh", "thành phố",
	"dân cư", "kinh tế", "thương mại", "du lịch", "giao thông",
	// english
	"tiếng anh", "english", "grammar", "vocabulary", "tense",
	"reading", "listening", "speaking", "writing",
	"pronunciation", "accent", "idiom", "phrasal verb",
	// computing
	"tin học", "máy tính", "computer", "code", "lập trình",
	"python", "java", "javascript", "c++", "html", "css",
	"database", "sql", "algorithm", "data structure",
	"software", "hardware", "network", "internet", "website",
	// civics
	"công dân", "gdcd", "pháp luật", "hiến pháp", "quyền",
	"nghĩa vụ", "dân chủ", "nhân quyền", "đạo đức", "lương tâm",
	"trách nhiệm", "xã hội", "cộng đồng", "văn hóa", "truyền thống",
	// sport and arts
	"thể dục", "thể thao", "bóng đá", "bóng rổ",
	"âm nhạc", "ca hát", "nhạc cụ", "giai điệu",
	"mỹ thuật", "điêu khắc", "kiến trúc",
	// religion and philosophy
	"phật giáo", "thiên chúa giáo", "hồi giáo",
	"triết học", "triết lý", "tư tưởng", "chủ nghĩa",
	// politics
	"đảng", "chính phủ", "quốc hội", "tổng thống", "thủ tướng",
	"bầu cử", "độc tài", "xã hội chủ nghĩa",
	// money
	"giá cả", "thị trường", "chứng khoán", "bất động sản",
	"lạm phát", "tỷ giá", "ngân hàng", "tiền tệ",
	// news
	"tin tức", "thời sự", "báo chí", "truyền thông",
	"covid", "bệnh viện", "bác sĩ", "y tế",
	"world cup", "olympic",
}

// searchRule decides whether to consult the question store. The first
// rule whose match returns true wins.
type searchRule struct {
	name   string
	match  func(query string) bool
	search bool
}

var searchRules = []searchRule{
	{name: "options", match: hasOptionMarkers, search: true},
	{name: "off-domain", match: isOffDomain, search: false},
}

// ShouldSearch reports whether query should be looked up in the question
// store before falling back to chat, and the rule that decided it.
func ShouldSearch(query string) (bool, string) {
	for _, r := range searchRules {
		if r.match(query) {
			return r.search, r.name
		}
	}
	return true, "default"
}

// hasOptionMarkers reports whether the query looks like a pasted
// multiple-choice question.
func hasOptionMarkers(query string) bool {
	s := strings.ToUpper(query)
	s = strings.NewReplacer(" ", "", "\n", "", "\t", "", "\r", "").Replace(s)
	return strings.Contains(s, "A.") && strings.Contains(s, "B.") && strings.Contains(s, "C.")
}

func isOffDomain(query string) bool {
	lower := strings.ToLower(query)
	for _, w := range offDomain {
		if containsWord(lower, w) {
			return true
		}
	}
	return false
}

// containsWord reports whether w occurs in s with no letter or digit
// directly before or after it.
func containsWord(s, w string) bool {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], w)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(w)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(s) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		from = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

var (
	answerPrefixes = strings.NewReplacer("nộp bài:", "", "nộp:", "", "submit:", "")
	answerPairRe   = regexp.MustCompile(`(\d+)\s*-?\s*([a-d])`)
)

// ExtractAnswers pulls "N-X" pairs from a submission message and returns
// the first ten, normalized. It fails with model.ErrMalformedAnswers when
// fewer than ten are present.
func ExtractAnswers(query string) (model.AnswerKey, error) {
	s := answerPrefixes.Replace(strings.ToLower(query))
	var pairs model.AnswerKey
	for _, m := range answerPairRe.FindAllStringSubmatchIndex(s, -1) {
		// "10 câu" is a number followed by a word, not an answer.
		if next, _ := utf8.DecodeRuneInString(s[m[1]:]); m[1] < len(s) && unicode.IsLetter(next) {
			continue
		}
		n, err := strconv.Atoi(s[m[2]:m[3]])
		if err != nil {
			continue
		}
		pairs = append(pairs, model.AnswerPair{Number: n, Letter: strings.ToUpper(s[m[4]:m[5]])})
		if len(pairs) == NumAnswers {
			return pairs, nil
		}
	}
	return nil, model.ErrMalformedAnswers
}
