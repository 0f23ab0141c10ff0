package httpapi

import (
	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/store"
)

func toProviderMessages(msgs []*store.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, providers.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
