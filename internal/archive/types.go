package archive

// Page is one message_<n>.json file of a conversation folder. Title,
// participants, is_still_participant and thread_type are required; nil
// means the key was absent.
type Page struct {
	Participants       *[]rawParticipant `json:"participants"`
	Title              *string           `json:"title"`
	IsStillParticipant *bool             `json:"is_still_participant"`
	ThreadType         *string           `json:"thread_type"`
	Messages           []rawEntry        `json:"messages"`
}

type rawParticipant struct {
	Name *string `json:"name"`
}

// rawEntry is a message or call as exported. Pointer fields distinguish an
// absent attribute from a zero value.
type rawEntry struct {
	SenderName  *string `json:"sender_name"`
	TimestampMS *int64  `json:"timestamp_ms"`
	Type        string  `json:"type"`
	Content     *string `json:"content"`

	Gifs       *[]rawMedia `json:"gifs"`
	Photos     *[]rawMedia `json:"photos"`
	Videos     *[]rawMedia `json:"videos"`
	AudioFiles *[]rawMedia `json:"audio_files"`
	Share      *rawShare   `json:"share"`
	Sticker    *rawMedia   `json:"sticker"`

	CallDuration *float64 `json:"call_duration"`
	Missed       *bool    `json:"missed"`
}

type rawMedia struct {
	URI *string `json:"uri"`
}

type rawShare struct {
	Link *string `json:"link"`
}
