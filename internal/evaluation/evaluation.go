// Package evaluation turns a student's submissions for one day into a
// scored, rated daily evaluation.
package evaluation

import (
	"math"
	"time"

	"github.com/pavelanni/tutor/internal/model"
)

// OnTimeMinutes is the longest duration that still counts as on time.
const OnTimeMinutes = 15

var comments = map[model.Rating]string{
	model.RatingExcellent: "Xuất sắc! Em làm bài đều đặn, đúng giờ và đạt kết quả rất cao. Hãy tiếp tục phát huy.",
	model.RatingGood:      "Tốt lắm! Kết quả của em ổn định. Thử thách bản thân với đề khó hơn nhé.",
	model.RatingFair:      "Khá. Em đã có nền tảng, hãy ôn lại các câu sai và làm bài đúng thời gian.",
	model.RatingAverage:   "Trung bình. Em cần luyện tập thêm và xem kỹ lời giải các câu làm sai.",
	model.RatingWeak:      "Cần cố gắng nhiều hơn. Hãy bắt đầu với đề dễ và làm bài mỗi ngày.",
}

// Compute scores one day of submissions.
func Compute(studentID, day string, subs []model.Submission, now time.Time) model.Evaluation {
	e := model.Evaluation{
		StudentID:        studentID,
		Date:             day,
		TotalSubmissions: len(subs),
		UpdatedAt:        now,
	}
	if len(subs) == 0 {
		e.Rating = model.RatingWeak
		e.Comment = comments[e.Rating]
		return e
	}

	var sum float64
	onTime := 0
	for _, s := range subs {
		sum += s.Score
		if s.DurationMinutes <= OnTimeMinutes {
			onTime++
		}
	}
	e.AvgScore = round2(sum / float64(len(subs)))
	e.OnTimeRate = round2(float64(onTime) / float64(len(subs)) * 100)

	e.ParticipationScore = participation(len(subs))
	e.CompetenceScore = competence(e.AvgScore)
	e.DisciplineScore = discipline(e.OnTimeRate)
	e.TotalScore = round2(e.ParticipationScore + e.CompetenceScore + e.DisciplineScore)
	e.Rating = Rate(e.AvgScore, e.TotalScore)
	e.Comment = comments[e.Rating]
	return e
}

func participation(n int) float64 {
	switch {
	case n <= 2:
		return 0.5
	case n <= 4:
		return 1
	case n <= 7:
		return 1.5
	default:
		return 2
	}
}

func competence(avg float64) float64 {
	switch {
	case avg < 5:
		return 0
	case avg < 6.5:
		return 0.5
	case avg < 7.5:
		return 1
	case avg < 9:
		return 1.5
	default:
		return 2
	}
}

// discipline takes the on-time rate as a percentage.
func discipline(rate float64) float64 {
	switch {
	case rate < 50:
		return 0
	case rate < 70:
		return 0.25
	case rate < 80:
		return 0.5
	case rate < 90:
		return 0.75
	default:
		return 1
	}
}

// Rate gates the rating on quality first: a low average caps the rating no
// matter how often the student practiced.
func Rate(avg, total float64) model.Rating {
	switch {
	case avg < 5:
		if total >= 3 {
			return model.RatingAverage
		}
		return model.RatingWeak
	case avg < 6.5:
		if total >= 3 {
			return model.RatingFair
		}
		return model.RatingAverage
	}
	switch {
	case total < 1.5:
		return model.RatingAverage
	case total < 4:
		return model.RatingFair
	case total < 5:
		return model.RatingGood
	default:
		return model.RatingExcellent
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
