package config

type WorkerKeyStruct struct {
	PersistAnswersQueue     string
	PersistScoresQueue      string
	PersistChoiceOrderQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue:     "persist_answers_queue",
	PersistScoresQueue:      "persist_scores_queue",
	PersistChoiceOrderQueue: "persist_choice_order_queue",
}
