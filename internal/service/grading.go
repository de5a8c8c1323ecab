package service

import "github.com/stemsi/exstem-attempt/internal/model"

// Grade scores single-choice answers against the answer key. A question is
// correct when exactly the keyed canonical index is selected. Questions not
// in the key are ignored; unanswered ones count as wrong.
func Grade(answerKey map[string]string, answers map[string][]string) model.SubmitResult {
	correct := 0
	for qid, want := range answerKey {
		if sel := answers[qid]; len(sel) == 1 && sel[0] == want {
			correct++
		}
	}

	total := len(answerKey)
	var score float64
	if total > 0 {
		score = float64(correct) / float64(total) * 100
	}
	return model.SubmitResult{
		Status:  model.SessionStatusCompleted,
		Score:   score,
		Correct: correct,
		Total:   total,
	}
}
