package bot

import "strings"

// Replies are the private-message texts. Placeholders in braces ({code},
// {keywords}, {remaining}, {count}) are filled in when a reply is sent. An
// empty text suppresses the reply.
type Replies struct {
	Welcome            string
	AlreadyClaimed     string
	Exhausted          string
	Issued             string
	VerificationFailed string
	Reloaded           string
	ReloadFailed       string
	Stock              string
	Restocked          string
	ClaimFailed        string
}

func (Replies) render(tmpl string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
