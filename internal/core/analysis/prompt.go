package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agenthands/driftwatch/internal/core/normalize"
)

// DefaultPrompt takes the canonical document and the canonical threads.
const DefaultPrompt = `You are a technical program manager checking whether recent chat discussion
contradicts or updates a documentation page.

<DOCUMENT>
%s
</DOCUMENT>

<DISCUSSION>
%s
</DISCUSSION>

Instructions:
Compare the discussion against the document. Report only factual conflicts or
definitive updates (decisions, changed dates, owners, numbers, scope), giving
weight to thread conclusions and corrections in replies. Ignore superficial
wording differences.

Each line of the document starts with [BLOCK_ID]. Each discussion line starts
with [MESSAGE_REF]. Cite them exactly.

Return a JSON object with key "findings", a list of objects with:
- "block_id": the id of the outdated document block
- "claim": one sentence stating what the discussion says
- "current_text": the outdated sentence from the block
- "suggested_text": the replacement text for the block
- "reasoning": one sentence explaining why the update is needed
- "confidence": a number between 0 and 1
- "source_ref": the MESSAGE_REF that supports the claim

Example JSON:
{
  "findings": [
    {"block_id": "abc", "claim": "Launch moved to March 15", "current_text": "Launch date: March 1",
     "suggested_text": "Launch date: March 15", "reasoning": "Team agreed in thread", "confidence": 0.9,
     "source_ref": "C123/1706781600.000100"}
  ]
}
If there are no conflicts, return {"findings": []}.`

// buildPrompt fills the template, dropping the least recently active threads
// until the prompt fits maxChars. The document is never cut. It returns the
// prompt, the threads kept and the number dropped.
func buildPrompt(template, document string, threads []normalize.ThreadChunk, maxChars int) (string, []normalize.ThreadChunk, int) {
	if template == "" {
		template = DefaultPrompt
	}
	render := func(kept []normalize.ThreadChunk) string {
		return fmt.Sprintf(template, document, strings.TrimRight(normalize.JoinThreads(kept), "\n"))
	}

	prompt := render(threads)
	if maxChars <= 0 || len(prompt) <= maxChars {
		return prompt, threads, 0
	}

	// oldest activity first
	order := make([]int, len(threads))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := threads[order[a]], threads[order[b]]
		if !ta.Latest.Equal(tb.Latest) {
			return ta.Latest.Before(tb.Latest)
		}
		return ta.Ref < tb.Ref
	})

	dropped := make(map[int]bool)
	kept := threads
	for _, idx := range order {
		if len(prompt) <= maxChars {
			break
		}
		dropped[idx] = true
		kept = make([]normalize.ThreadChunk, 0, len(threads)-len(dropped))
		for i, t := range threads {
			if !dropped[i] {
				kept = append(kept, t)
			}
		}
		prompt = render(kept)
	}
	return prompt, kept, len(dropped)
}
