package ws

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

func newConnID() string {
	return uuid.NewString()
}

// channelURL builds the push endpoint for chatID. The token is repeated in the
// query; the backend accepts it there or in the Authorization header.
func channelURL(base string, chatID int, token string) string {
	target := fmt.Sprintf("%s/ws/%d", base, chatID)
	if token != "" {
		target += "?token=" + url.QueryEscape(token)
	}
	return target
}
