package channel

// Batch is one getUpdates response body.
type Batch struct {
	OK          bool     `json:"ok"`
	Result      []Update `json:"result"`
	ErrorCode   int      `json:"error_code,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Update is a single ingested channel message.
type Update struct {
	UpdateID    int64 `json:"update_id"`
	ChannelPost *Post `json:"channel_post,omitempty"`
}

type Post struct {
	MessageID int64  `json:"message_id,omitempty"`
	Date      int64  `json:"date,omitempty"`
	Text      string `json:"text,omitempty"`
}

func (b Batch) Empty() bool {
	return len(b.Result) == 0
}

// MaxUpdateID returns the highest update id in the batch, or 0 when empty.
func (b Batch) MaxUpdateID() int64 {
	var max int64
	for _, u := range b.Result {
		if u.UpdateID > max {
			max = u.UpdateID
		}
	}
	return max
}

// Text returns the channel post text, or "" when the update carries none.
func (u Update) Text() string {
	if u.ChannelPost == nil {
		return ""
	}
	return u.ChannelPost.Text
}
