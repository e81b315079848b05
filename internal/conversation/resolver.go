// Package conversation keeps per-conversation turn history and rewrites
// follow-up questions so the rest of the pipeline sees a self-contained
// query. "How much do I spend there?" only makes sense if "there" becomes
// the merchant the previous answer talked about.
package conversation

import (
	"regexp"
	"strings"

	"github.com/kalambet/penny/internal/storage"
)

var referenceRe = regexp.MustCompile(`(?i)\b(they|them|it|that|this|those|these|there|here)\b`)

// entityRes extract merchant-like entities from earlier turns, most
// specific first. The "was X for $" form comes from our own answers, the
// prepositional forms from user questions. Capitalization gates what
// counts as an entity, so only the keywords are case-insensitive.
var entityRes = []*regexp.Regexp{
	regexp.MustCompile(`\b(?i:was) ([A-Z][\w&' ]{1,40}?) (?i:for) \$`),
	regexp.MustCompile(`\b(?i:at) ([A-Z][\w&']+(?: [A-Z][\w&']+)*)`),
	regexp.MustCompile(`\b(?i:from) ([A-Z][\w&']+(?: [A-Z][\w&']+)*)`),
}

// ResolveReferences rewrites pronoun references in query against the
// conversation history (newest first). When the query carries no
// reference, or no entity can be recovered, the query passes through
// unchanged.
func ResolveReferences(query string, history []storage.Turn) string {
	loc := referenceRe.FindStringIndex(query)
	if loc == nil {
		return query
	}

	entity := latestEntity(history)
	if entity == "" {
		return query
	}

	return query[:loc[0]] + entity + query[loc[1]:]
}

// latestEntity scans history newest first for a merchant-like mention.
func latestEntity(history []storage.Turn) string {
	for _, turn := range history {
		for _, re := range entityRes {
			if m := re.FindStringSubmatch(turn.Text); m != nil {
				return strings.TrimSpace(m[1])
			}
		}
	}
	return ""
}
