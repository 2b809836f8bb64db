package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/pavelanni/tutor/internal/grader"
	"github.com/pavelanni/tutor/internal/graph"
	"github.com/pavelanni/tutor/internal/guard"
	"github.com/pavelanni/tutor/internal/i18n"
	"github.com/pavelanni/tutor/internal/llm"
	"github.com/pavelanni/tutor/internal/model"
	"github.com/pavelanni/tutor/internal/quizgen"
	"github.com/pavelanni/tutor/internal/store"
)

const answers = "1-A,2-B,3-C,4-D,5-A,6-B,7-C,8-D,9-A,10-B"

func TestMain(m *testing.M) {
	if err := i18n.Init("vi"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// fakeLLM answers by request purpose.
type fakeLLM struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	panicOn string
	calls   []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if req.Purpose == f.panicOn {
		panic("boom")
	}
	if err := f.errs[req.Purpose]; err != nil {
		return "", err
	}
	return f.replies[req.Purpose], nil
}

func (f *fakeLLM) count(purpose string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Purpose == purpose {
			n++
		}
	}
	return n
}

func (f *fakeLLM) last(purpose string) llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Purpose == purpose {
			return f.calls[i]
		}
	}
	return llm.Request{}
}

type fakeSearcher struct {
	hits  []model.ScoredQuestion
	calls int
}

func (f *fakeSearcher) Search(context.Context, string, string, int) []model.ScoredQuestion {
	f.calls++
	return f.hits
}

type fakeOCR struct {
	text string
	err  error
}

func (f fakeOCR) ExtractText(context.Context, []byte) (string, error) { return f.text, f.err }

type fakeRenderer struct {
	equation   string
	xMin, xMax float64
	err        error
}

func (f *fakeRenderer) Render(_ context.Context, eq string, xMin, xMax float64) (*graph.Result, error) {
	f.equation, f.xMin, f.xMax = eq, xMin, xMax
	if f.err != nil {
		return nil, f.err
	}
	return &graph.Result{Path: "graphs/g.png", Size: 2048}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	jobs []string
}

func (f *fakeNotifier) Notify(studentID, day string) {
	f.mu.Lock()
	f.jobs = append(f.jobs, studentID+"@"+day)
	f.mu.Unlock()
}

type fixture struct {
	agent    *Agent
	store    *store.Store
	llm      *fakeLLM
	searcher *fakeSearcher
	renderer *fakeRenderer
	notifier *fakeNotifier
}

func quizMarkdown(key string) string {
	var sb strings.Builder
	sb.WriteString("# ĐỀ KIỂM TRA 15 PHÚT\n\n---\n\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&sb, "## **Câu %d**: Đạo hàm của hàm số y = x^%d tại điểm x bằng một là bao nhiêu?\n\n", i, i+1)
		for _, l := range []string{"A", "B", "C", "D"} {
			fmt.Fprintf(&sb, "**%s.** phương án %s\n", l, l)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("---\n\n")
	if key != "" {
		sb.WriteString("<!-- ANSWER_KEY: " + key + " -->\n")
	}
	return sb.String()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store: s,
		llm: &fakeLLM{
			replies: map[string]string{
				"topic": `{"subject": "Toán", "topic": "Đạo hàm", "user_difficulty": ""}`,
				"quiz":  quizMarkdown(answers),
				"guard": "NO",
				"chat":  "Chào em!",
			},
			errs: map[string]error{},
		},
		searcher: &fakeSearcher{},
		renderer: &fakeRenderer{},
		notifier: &fakeNotifier{},
	}
	f.agent = New(Config{
		Store:     s,
		Grader:    grader.New(s),
		Generator: quizgen.New(f.llm, s),
		Guard:     guard.New(f.llm),
		LLM:       f.llm,
		Searcher:  f.searcher,
		OCR:       fakeOCR{text: "Tính đạo hàm của x^2"},
		Renderer:  f.renderer,
		Notifier:  f.notifier,
	})
	return f
}

func (f *fixture) ask(t *testing.T, text string) Response {
	t.Helper()
	return f.agent.Handle(context.Background(), Request{StudentID: "stu1", Text: text})
}

func TestSubmitWithoutPendingQuiz(t *testing.T) {
	f := newFixture(t)
	resp := f.ask(t, "Nộp bài: "+answers)
	if resp.Route != RouteSubmit || !strings.Contains(resp.Response, "Chưa có bài kiểm tra") {
		t.Fatalf("unexpected response %+v", resp)
	}
	subs, err := f.store.ListStudentSubmissions("stu1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 0 {
		t.Errorf("no submission should be stored, got %d", len(subs))
	}
}

func TestQuizLifecycle(t *testing.T) {
	f := newFixture(t)

	resp := f.ask(t, "Tạo đề Toán về đạo hàm")
	if resp.Route != RouteCreate || !strings.Contains(resp.Response, "Đã tạo xong đề") {
		t.Fatalf("create: %+v", resp)
	}
	if strings.Contains(resp.Response, "ANSWER_KEY") {
		t.Error("answer key must not be shown to the student")
	}
	pending, err := f.store.GetLatestPendingQuiz("stu1")
	if err != nil || pending == nil {
		t.Fatalf("expected pending quiz, got %v, %v", pending, err)
	}
	if pending.Subject != "Toán" || pending.Topic != "Đạo hàm" || pending.AnswerKey.String() != answers {
		t.Errorf("unexpected stored quiz %+v", pending)
	}
	// No evaluation yet, so the profile gives medium.
	if pending.Difficulty != model.DifficultyMedium {
		t.Errorf("difficulty = %q, want medium", pending.Difficulty)
	}

	resp = f.ask(t, "tạo đề vật lý về lực")
	if resp.Route != RouteCreateBlocked || !strings.Contains(resp.Response, "Đạo hàm") {
		t.Errorf("second create should be refused: %+v", resp)
	}

	resp = f.ask(t, "xem lại đề")
	if resp.Route != RouteView || !strings.Contains(resp.Response, "**Câu 10**") {
		t.Errorf("view: %+v", resp)
	}

	resp = f.ask(t, "câu 3 làm thế nào vậy")
	if resp.Route != RouteGuardBlocked || !strings.Contains(resp.Response, "nhắc trực tiếp") {
		t.Errorf("guard: %+v", resp)
	}

	resp = f.ask(t, "Nộp bài: 1-A, 2-B, 3-C, 4-D, 5-A, 6-B, 7-C, 8-D, 9-A, 10-C")
	if resp.Route != RouteSubmit || !strings.Contains(resp.Response, "**9/10**") {
		t.Fatalf("submit: %+v", resp)
	}
	if !strings.Contains(resp.Response, "Câu 10: C → Đúng là B") || !strings.Contains(resp.Response, "Câu 1: A (Đúng)") {
		t.Errorf("missing per-question detail:\n%s", resp.Response)
	}
	if !strings.Contains(resp.Response, "Lần nộp thứ 1") {
		t.Errorf("missing daily count:\n%s", resp.Response)
	}

	done, err := f.store.GetQuiz(pending.ID)
	if err != nil || done.Status != model.QuizCompleted {
		t.Errorf("quiz should be completed, got %+v, %v", done, err)
	}
	if len(f.notifier.jobs) != 1 || !strings.HasPrefix(f.notifier.jobs[0], "stu1@") {
		t.Errorf("expected one evaluation notification, got %v", f.notifier.jobs)
	}

	resp = f.ask(t, "Nộp bài: "+answers)
	if !strings.Contains(resp.Response, "Chưa có bài kiểm tra") {
		t.Errorf("resubmitting a completed quiz: %+v", resp)
	}

	resp = f.ask(t, "Tạo đề Toán về tích phân")
	if resp.Route != RouteCreate {
		t.Errorf("a new quiz should be allowed after submitting: %+v", resp)
	}
}

func TestSubmitMalformedAnswers(t *testing.T) {
	f := newFixture(t)
	f.ask(t, "Tạo đề Toán về đạo hàm")

	for _, text := range []string{
		"nộp bài: 1-A,2-B,3-C",
		"nộp bài: 1-A,1-B,3-C,4-D,5-A,6-B,7-C,8-D,9-A,10-B",
	} {
		resp := f.ask(t, text)
		if !strings.Contains(resp.Response, "Không thể đọc được đáp án") {
			t.Errorf("%q: %+v", text, resp)
		}
	}
	pending, _ := f.store.GetLatestPendingQuiz("stu1")
	if pending == nil {
		t.Error("quiz must stay pending after a rejected submission")
	}
}

func TestSubmitAlreadySubmitted(t *testing.T) {
	f := newFixture(t)
	f.ask(t, "Tạo đề Toán về đạo hàm")
	pending, _ := f.store.GetLatestPendingQuiz("stu1")

	// A submission recorded without the status flip, as after a crash
	// between the two writes.
	if _, err := grader.New(f.store).Submit(pending.ID, "stu1", answers, answers); err != nil {
		t.Fatal(err)
	}
	resp := f.ask(t, "Nộp bài: "+answers)
	if !strings.Contains(resp.Response, "đã được nộp rồi") {
		t.Errorf("expected already-submitted message, got %+v", resp)
	}
}

func TestSubmitMissingKey(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.SaveQuiz("stu1", quizMarkdown(""), nil, "Toán", "Đạo hàm", model.DifficultyEasy); err != nil {
		t.Fatal(err)
	}
	resp := f.ask(t, "Nộp bài: "+answers)
	if !strings.Contains(resp.Response, "thiếu đáp án") {
		t.Errorf("expected missing key message, got %+v", resp)
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		err   error
		want  string
	}{
		{"unsupported subject", `{"subject": "Lịch sử", "topic": "Chiến tranh thế giới"}`, nil, "Toán, Vật lý, Hóa học, Sinh học"},
		{"missing subject", `{"subject": "", "topic": "Đạo hàm"}`, nil, "Không xác định được môn học"},
		{"short topic", `{"subject": "Lý", "topic": " a "}`, nil, "Vật lý"},
		{"bad json", `không phải json`, nil, "Không thể hiểu yêu cầu"},
		{"llm down", "", errors.New("timeout"), "Không thể hiểu yêu cầu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.llm.replies["topic"] = tt.topic
			f.llm.errs["topic"] = tt.err

			resp := f.ask(t, "tạo đề kiểm tra")
			if !strings.Contains(resp.Response, tt.want) {
				t.Errorf("response %q does not contain %q", resp.Response, tt.want)
			}
			if f.llm.count("quiz") != 0 {
				t.Error("generator must not run for a rejected request")
			}
			if q, _ := f.store.GetLatestPendingQuiz("stu1"); q != nil {
				t.Error("no quiz should be saved")
			}
		})
	}
}

func TestCreateWithoutKeyIsNotSaved(t *testing.T) {
	f := newFixture(t)
	f.llm.replies["quiz"] = quizMarkdown("")
	resp := f.ask(t, "Tạo đề Toán về đạo hàm")
	if !strings.Contains(resp.Response, "thiếu đáp án") {
		t.Errorf("unexpected response %+v", resp)
	}
	if q, _ := f.store.GetLatestPendingQuiz("stu1"); q != nil {
		t.Error("a quiz without a key must not be saved")
	}
}

func TestCreateHidesBulletedAnswerKey(t *testing.T) {
	f := newFixture(t)
	var trailer strings.Builder
	trailer.WriteString("**Đáp án:**\n")
	for i, l := range strings.Split("A,B,C,D,A,B,C,D,A,B", ",") {
		fmt.Fprintf(&trailer, "%d. %s\n", i+1, l)
	}
	f.llm.replies["quiz"] = quizMarkdown("") + trailer.String()

	resp := f.ask(t, "Tạo đề Toán về đạo hàm")
	if resp.Route != RouteCreate || !strings.Contains(resp.Response, "Đã tạo xong đề") {
		t.Fatalf("create: %+v", resp)
	}
	pending, err := f.store.GetLatestPendingQuiz("stu1")
	if err != nil || pending == nil {
		t.Fatalf("expected pending quiz, got %v, %v", pending, err)
	}
	if pending.AnswerKey.String() != answers {
		t.Errorf("stored key = %q, want %q", pending.AnswerKey.String(), answers)
	}

	view := f.ask(t, "xem lại đề")
	for name, text := range map[string]string{"create": resp.Response, "view": view.Response, "stored": pending.Content} {
		if strings.Contains(text, "Đáp án") || strings.Contains(text, "10. B") {
			t.Errorf("%s text leaks the answer key:\n%s", name, text)
		}
	}
}

func TestConcurrentCreateSavesOneQuiz(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.agent.Handle(context.Background(), Request{StudentID: "stu1", Text: "Tạo đề Toán về đạo hàm"})
		}()
	}
	wg.Wait()

	quizzes, err := f.store.ListStudentQuizzes("stu1", 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(quizzes) != 1 {
		t.Errorf("expected one saved quiz, got %d", len(quizzes))
	}
	if n := f.llm.count("quiz"); n != 1 {
		t.Errorf("generator ran %d times, want 1", n)
	}
}

func TestCreateUsesExplicitDifficulty(t *testing.T) {
	f := newFixture(t)
	f.llm.replies["topic"] = `{"subject": "Hóa", "topic": "Axit bazơ", "user_difficulty": "khó"}`
	f.ask(t, "ra đề hóa khó về axit bazơ")
	q, _ := f.store.GetLatestPendingQuiz("stu1")
	if q == nil || q.Difficulty != model.DifficultyHard || q.Subject != "Hóa học" {
		t.Errorf("unexpected quiz %+v", q)
	}
}

func TestGuardAllowsUnrelatedQuestion(t *testing.T) {
	f := newFixture(t)
	f.ask(t, "Tạo đề Toán về đạo hàm")
	f.searcher.hits = nil

	resp := f.ask(t, "giải thích quang hợp ở thực vật")
	if resp.Route != RouteChat || resp.Response != "Chào em!" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if f.llm.count("guard") != 1 {
		t.Errorf("expected one classifier call, got %d", f.llm.count("guard"))
	}
	if !strings.Contains(f.llm.last("chat").System, "Đạo hàm") {
		t.Error("chat prompt should mention the pending quiz topic")
	}
}

func TestGuardFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.ask(t, "Tạo đề Toán về đạo hàm")
	f.llm.errs["guard"] = errors.New("down")

	resp := f.ask(t, "giải thích quang hợp ở thực vật")
	if resp.Route != RouteGuardBlocked {
		t.Errorf("expected block on classifier failure, got %+v", resp)
	}
}

func TestSearchRouting(t *testing.T) {
	question := model.Question{
		ID:                "q1",
		Text:              "Chất nào sau đây là axit mạnh?",
		Options:           map[string]string{"A": "HCl", "B": "CH3COOH", "C": "H2CO3", "D": "H2S"},
		CorrectAnswer:     "A",
		CorrectAnswerText: "HCl",
		Subject:           "Hóa học",
	}
	query := "Chất nào sau đây là axit mạnh? A. HCl B. CH3COOH C. H2CO3 D. H2S"

	t.Run("low score falls back to chat", func(t *testing.T) {
		f := newFixture(t)
		f.searcher.hits = []model.ScoredQuestion{{Question: question, Score: 0.55}}
		resp := f.ask(t, query)
		if resp.Route != RouteChat || f.llm.count("chat") != 1 {
			t.Errorf("expected chat fallback, got %+v", resp)
		}
	})

	t.Run("stored explanation answers directly", func(t *testing.T) {
		f := newFixture(t)
		q := question
		q.Explanation = "HCl phân li hoàn toàn trong nước."
		f.searcher.hits = []model.ScoredQuestion{{Question: q, Score: 0.93}}
		resp := f.ask(t, query)
		if resp.Route != RouteSearch || !strings.Contains(resp.Response, "**Đáp án A: HCl**") ||
			!strings.Contains(resp.Response, "phân li hoàn toàn") {
			t.Errorf("unexpected response %+v", resp)
		}
		if len(f.llm.calls) != 0 {
			t.Errorf("no LLM call expected, got %d", len(f.llm.calls))
		}
	})

	t.Run("no explanation asks the model", func(t *testing.T) {
		f := newFixture(t)
		f.llm.replies["search"] = "**Đáp án A: HCl** vì ..."
		f.searcher.hits = []model.ScoredQuestion{{Question: question, Score: 0.9}}
		resp := f.ask(t, query)
		if resp.Route != RouteSearch || resp.Response != "**Đáp án A: HCl** vì ..." {
			t.Errorf("unexpected response %+v", resp)
		}
		req := f.llm.last("search")
		if !strings.Contains(req.System, "A. HCl") || !strings.Contains(req.System, "Đáp án đúng: A") || req.Temperature != 0.5 {
			t.Errorf("unexpected search request %+v", req)
		}
	})

	t.Run("off-domain skips search", func(t *testing.T) {
		f := newFixture(t)
		resp := f.ask(t, "Bác Hồ sinh năm nào?")
		if resp.Route != RouteChat || f.searcher.calls != 0 {
			t.Errorf("expected chat without search, got %+v (searches %d)", resp, f.searcher.calls)
		}
	})
}

func TestChatHistoryIsTrimmed(t *testing.T) {
	f := newFixture(t)
	var history []llm.Message
	for i := 0; i < 14; i++ {
		history = append(history, llm.Message{Role: model.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	f.agent.Handle(context.Background(), Request{StudentID: "stu1", Text: "Bác Hồ là ai", History: history})

	msgs := f.llm.last("chat").Messages
	if len(msgs) != DefaultHistoryLimit+1 {
		t.Fatalf("expected %d messages, got %d", DefaultHistoryLimit+1, len(msgs))
	}
	if msgs[0].Content != "m4" || msgs[len(msgs)-1].Content != "Bác Hồ là ai" {
		t.Errorf("unexpected window %q ... %q", msgs[0].Content, msgs[len(msgs)-1].Content)
	}
}

func TestGraph(t *testing.T) {
	f := newFixture(t)
	resp := f.ask(t, "vẽ đồ thị y = x^2 - 3 từ -5 đến 5")
	if resp.Route != RouteGraph || !strings.Contains(resp.Response, "[IMAGE:graphs/g.png]") {
		t.Fatalf("unexpected response %+v", resp)
	}
	if f.renderer.equation != "x**2 - 3" || f.renderer.xMin != -5 || f.renderer.xMax != 5 {
		t.Errorf("renderer got %q [%v, %v]", f.renderer.equation, f.renderer.xMin, f.renderer.xMax)
	}
	if f.llm.count("equation") != 0 {
		t.Error("regex match should not need the model")
	}
}

func TestGraphFallsBackToModel(t *testing.T) {
	f := newFixture(t)
	f.llm.replies["equation"] = "sin(x)"
	resp := f.ask(t, "vẽ đồ thị hàm số sin")
	if resp.Route != RouteGraph || f.renderer.equation != "sin(x)" {
		t.Errorf("unexpected response %+v, equation %q", resp, f.renderer.equation)
	}
	if f.renderer.xMin != graph.DefaultXMin || f.renderer.xMax != graph.DefaultXMax {
		t.Errorf("expected default range, got [%v, %v]", f.renderer.xMin, f.renderer.xMax)
	}

	f.llm.replies["equation"] = "NONE"
	resp = f.ask(t, "vẽ đồ thị giúp em")
	if !strings.Contains(resp.Response, "Không xác định được hàm số") {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestGraphRenderFailure(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = errors.New("gnuplot missing")
	resp := f.ask(t, "vẽ đồ thị y = x")
	if !strings.Contains(resp.Response, "Không thể vẽ đồ thị") || !strings.Contains(resp.Response, "gnuplot missing") {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestImageQuery(t *testing.T) {
	f := newFixture(t)
	resp := f.agent.Handle(context.Background(), Request{StudentID: "stu1", Text: "", Image: []byte{0x89, 'P', 'N', 'G'}})
	if resp.FinalQuery != "Tính đạo hàm của x^2" {
		t.Errorf("FinalQuery = %q", resp.FinalQuery)
	}

	f.agent.cfg.OCR = fakeOCR{err: errors.New("vision down")}
	resp = f.agent.Handle(context.Background(), Request{StudentID: "stu1", Image: []byte{1}})
	if !strings.Contains(resp.Response, "Không đọc được") {
		t.Errorf("unreadable image: %+v", resp)
	}
}

func TestPanicBecomesApology(t *testing.T) {
	f := newFixture(t)
	f.llm.panicOn = "chat"
	resp := f.ask(t, "Bác Hồ là ai")
	if resp.Route != RouteError || !strings.Contains(resp.Response, "Xin lỗi") {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestChatFailureBecomesApology(t *testing.T) {
	f := newFixture(t)
	f.llm.errs["chat"] = errors.New("timeout")
	resp := f.ask(t, "Bác Hồ là ai")
	if !strings.Contains(resp.Response, "Xin lỗi") {
		t.Errorf("unexpected response %+v", resp)
	}
}
