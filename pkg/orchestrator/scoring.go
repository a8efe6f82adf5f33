package orchestrator

import (
	"math"

	"github.com/easyinjection/scand/pkg/models"
)

// ComputeScore grades a completed scan: the quiz contributes up to 60 points
// proportionally, finding a clean target contributes up to 40 (each
// vulnerability costs 5). A prompt without a point value counts as 100 so a
// malformed bank cannot inflate the quiz share.
func ComputeScore(results []models.QuestionResult, vulnCount int) models.Score {
	score := models.Score{VulnCount: vulnCount}

	for _, r := range results {
		score.QuizPoints += r.PointsEarned
		if r.Points > 0 {
			score.TotalQuizPoints += r.Points
		} else {
			score.TotalQuizPoints += 100
		}
	}

	if score.TotalQuizPoints > 0 {
		score.QuizPart = float64(score.QuizPoints) / float64(score.TotalQuizPoints) * 60
	}
	score.VulnPart = math.Max(0, 40-5*float64(vulnCount))

	final := int(math.Round(score.QuizPart + score.VulnPart))
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}
	score.Final = final
	score.Grade = gradeFor(final)
	return score
}

func gradeFor(final int) models.Grade {
	switch {
	case final >= 90:
		return models.GradeExcellent
	case final >= 75:
		return models.GradeGood
	case final >= 60:
		return models.GradeFair
	case final >= 40:
		return models.GradePoor
	default:
		return models.GradeCritical
	}
}
