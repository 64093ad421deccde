package stocktwits

import (
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

// streamResponse es la respuesta de /streams/symbol/{symbol}.json.
type streamResponse struct {
	Response struct {
		Status int `json:"status"`
	} `json:"response"`
	Messages []message `json:"messages"`
}

type message struct {
	ID        int64  `json:"id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	Entities  struct {
		Sentiment *struct {
			Basic string `json:"basic"` // "Bullish" | "Bearish"
		} `json:"sentiment"`
	} `json:"entities"`
	Likes struct {
		Total int `json:"total"`
	} `json:"likes"`
	Conversation struct {
		Replies int `json:"replies"`
	} `json:"conversation"`
}

// toMention mapea un mensaje a RawMention. Los mensajes sin etiqueta de
// sentimiento cuentan como neutrales; sin fecha válida se descartan.
func toMention(ticker string, m message) (domain.RawMention, bool) {
	posted, err := time.Parse(time.RFC3339, m.CreatedAt)
	if err != nil {
		return domain.RawMention{}, false
	}

	sentiment := 0.0
	if m.Entities.Sentiment != nil {
		switch strings.ToLower(m.Entities.Sentiment.Basic) {
		case "bullish":
			sentiment = 1
		case "bearish":
			sentiment = -1
		}
	}

	return domain.RawMention{
		ID:        strconv.FormatInt(m.ID, 10),
		Ticker:    ticker,
		Source:    domain.SourceStocktwits,
		Upvotes:   max(m.Likes.Total, 0),
		Comments:  max(m.Conversation.Replies, 0),
		Sentiment: sentiment,
		Text:      m.Body,
		PostedAt:  posted.UTC(),
	}, true
}
