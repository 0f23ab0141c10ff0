package memory

import (
	"regexp"
	"strings"
)

var (
	currentTaskTag       = regexp.MustCompile(`(?s)<current-task>(.*?)</current-task>`)
	suggestedResponseTag = regexp.MustCompile(`(?s)<suggested-response>(.*?)</suggested-response>`)
)

// parsedObservation splits an Observer/Reflector response into its prose
// content and the two structured tags the prompt asks for (spec §4.10
// "Observation prompts"), stripping the tags out of the returned content.
type parsedObservation struct {
	Content            string
	CurrentTask        string
	SuggestedResponse  string
}

func parseObservation(raw string) parsedObservation {
	p := parsedObservation{Content: raw}

	if m := currentTaskTag.FindStringSubmatch(raw); m != nil {
		p.CurrentTask = strings.TrimSpace(m[1])
		p.Content = currentTaskTag.ReplaceAllString(p.Content, "")
	}
	if m := suggestedResponseTag.FindStringSubmatch(raw); m != nil {
		p.SuggestedResponse = strings.TrimSpace(m[1])
		p.Content = suggestedResponseTag.ReplaceAllString(p.Content, "")
	}
	p.Content = strings.TrimSpace(p.Content)
	return p
}
