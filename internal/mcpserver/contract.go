package mcpserver

// BoardFormatContract describes how vocabulary cards are laid out on a board
// document. LLM consumers should read it before adding terms.
const BoardFormatContract = `# Termboard Board Format Contract

A book is a board document (` + "`" + `.canvas` + "`" + ` JSON) whose text cards each define one term.

## Card text

` + "```" + `text
Term
*alias one, alias two*

Definition body in Markdown.
` + "```" + `

1. **First line is the term.** It is a single line; leading Markdown heading
   marks are stripped. A card whose first line is empty is ignored.
2. **Alias line is optional.** It is the second line, wrapped in single
   asterisks, with aliases separated by commas. Aliases equal to the term are
   dropped and the list is capped (16 by default).
3. **Body** is everything after the alias line (or after the term), trimmed.
4. Lookups are case-insensitive. Matching in text respects word boundaries,
   except next to CJK characters which delimit themselves.

## Mastered terms

- **Group mode (default):** a card is mastered when at least half of its area
  lies inside the group node labelled ` + "`" + `Mastered` + "`" + `.
- **Color mode:** a card is mastered when its color is preset ` + "`" + `4` + "`" + `.
- Mastered terms are still looked up but are not offered for highlighting.

## Adding terms

- Use the ` + "`" + `add_term` + "`" + ` tool. The term is visible immediately under a temporary
  node id starting with ` + "`" + `tmp-` + "`" + `; the card is written after a short debounce and
  placed below the existing cards, outside the mastered group.
- ` + "`" + `color` + "`" + ` is optional, 1..6.
- Never edit board JSON by hand while the server runs; unknown fields are kept
  but concurrent writes may be rejected.

## Example

` + "```" + `text
Ubiquitous
*everywhere, omnipresent*

Present, appearing, or found everywhere.
` + "```" + `
`
