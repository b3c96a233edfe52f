package model

// NewStatus builds a Status carrying the routing ids of r.
func (r Request) NewStatus(text string, step Step) Status {
	return Status{
		TaskID:    r.TaskID,
		UserID:    r.UserID,
		BotID:     r.BotID,
		ChatID:    r.ChatID,
		MessageID: r.MessageID,
		Text:      text,
		Step:      step,
	}
}

// NewResult builds an empty terminal Result carrying the routing ids of r.
func (r Request) NewResult(step Step) Result {
	return Result{
		TaskID:    r.TaskID,
		UserID:    r.UserID,
		BotID:     r.BotID,
		ChatID:    r.ChatID,
		MessageID: r.MessageID,
		Step:      step,
		Site:      r.Site,
		Files:     []string{},
	}
}
