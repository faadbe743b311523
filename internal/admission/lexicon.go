package admission

// Phrase lists are matched against lower-cased content.
var (
	urgencyLexicon = []string{
		"urgent", "asap", "immediately", "deadline", "due ", "due:", "overdue",
		"critical", "emergency", "important", "action required", "action item",
		"todo", "to-do", "follow up", "follow-up", "followup", "reminder", "remind me",
		"don't forget", "need to", "needs to", "must ", "please review", "please send",
		"i will", "i'll", "i promise", "by tomorrow", "by eod", "by end of day",
	}

	// ackLexicon holds casual acknowledgements rejected when the whole item
	// is one of them.
	ackLexicon = map[string]bool{
		"ok": true, "okay": true, "k": true, "kk": true, "thanks": true, "thank you": true,
		"thx": true, "ty": true, "lol": true, "lmao": true, "haha": true, "hah": true,
		"yes": true, "yep": true, "yeah": true, "no": true, "nope": true, "cool": true,
		"nice": true, "great": true, "sure": true, "np": true, "got it": true,
		"sounds good": true, "+1": true, "👍": true, "ok thanks": true, "wow": true,
	}

	boilerplateLexicon = []string{
		"unsubscribe", "privacy policy", "terms of service", "terms and conditions",
		"all rights reserved", "you are receiving this", "view in browser",
		"manage your preferences", "cookie policy", "do not reply to this",
	}

	smallTalkWords = map[string]bool{
		"hi": true, "hello": true, "hey": true, "heya": true, "yo": true, "morning": true,
		"good": true, "afternoon": true, "evening": true, "night": true, "how": true,
		"are": true, "you": true, "doing": true, "what's": true, "up": true, "sup": true,
		"how's": true, "it": true, "going": true, "hope": true, "well": true, "all": true,
		"thanks": true, "thank": true, "cheers": true, "bye": true, "later": true,
		"see": true, "ya": true, "take": true, "care": true, "nice": true, "to": true,
		"meet": true, "have": true, "a": true, "great": true, "day": true, "weekend": true,
		"there": true, "everyone": true, "guys": true, "folks": true, "ok": true, "okay": true,
		"lol": true, "haha": true, "i'm": true, "im": true, "fine": true, "and": true,
	}

	weatherLexicon = []string{
		"weather", "sunny", "raining", "rainy", "snowing", "forecast", "temperature",
		"humid", "cloudy", "so hot", "so cold", "degrees outside",
	}

	travelLexicon = []string{
		"flight", "airport", "travel", "trip", "commute", "drive", "delayed", "cancelled",
		"canceled", "event", "outdoor", "offsite", "venue", "hotel",
	}

	socialFluffLexicon = []string{
		"liked your post", "liked your photo", "new followers", "followed you",
		"reacted to", "retweeted", "shared a memory", "is now following",
		"check out my", "trending now", "went viral", "story views",
	}

	entertainmentLexicon = []string{
		"netflix", "movie", "episode", "season finale", "tv show", "spotify", "playlist",
		"video game", "gaming", "celebrity", "binge", "trailer", "box office",
	}

	businessLexicon = []string{
		"meeting", "project", "client", "customer", "report", "invoice", "budget",
		"proposal", "contract", "review", "deploy", "release", "launch", "sprint",
		"roadmap", "deliverable", "stakeholder", "quarter", "revenue", "presentation",
		"agenda", "schedule", "call", "sync", "standup", "interview", "pr ", "pull request",
		"ticket", "issue", "bug", "ship", "draft", "document", "doc ", "spreadsheet",
		"send", "approve", "sign", "team", "manager", "office", "work",
	}

	requestLexicon = []string{
		"can you", "could you", "would you", "will you", "please", "let me know",
		"need you", "would like", "wondering if", "mind if", "any update",
	}

	timeLexicon = []string{
		"today", "tonight", "tomorrow", "yesterday", "next week", "this week",
		"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
		"am ", "pm ", "a.m.", "p.m.", "o'clock", "noon", "midnight", "eod", "eow",
		"january", "february", "march", "april", "june", "july", "august",
		"september", "october", "november", "december", "by end of",
	}
)
