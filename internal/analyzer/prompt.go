package analyzer

import "fmt"

// instruction is the shared prompt for all providers. The message context is
// authoritative; the image is a visual fallback. The model must answer with a
// single JSON object matching the Result shape.
const instruction = `Your task is to catalog the product in the attached photo as "damage" (damaged goods written off) or "internal_use" (items consumed by the store or staff).

[GOLDEN RULE]: The "Message context" is the most important source of information. The image is only visual support. Treat the text as the source of truth.

[HOW TO ANALYZE]:
1. Text first: if the message context describes products (e.g. "2 lettuce", "cilantro", "trash bags"), extract the items directly from the text.
   - Mentions of losses, breakage or spoiled goods mean category "damage".
   - Mentions of staff or store consumption mean category "internal_use".
   - If the photo has no readable label for those items, set "weight", "brand" and "barcode" to "N/A".
   - If the text lists several items, return one entry per item in "items".
2. Image fallback: if the text is empty or not descriptive and the photo shows a readable product label, extract from the label.
   - For "damage" extract product name and weight.
   - For "internal_use" extract product name, brand and barcode; prioritize the barcode.
3. If the product or category cannot be determined, use category "error" and explain in "details".

[RESPONSE FORMAT]: answer with a single JSON object and nothing else:
{"category":"damage","items":[{"product":"CILANTRO","weight":"N/A","brand":"N/A","barcode":"N/A"}],"details":""}
`

// BuildPrompt assembles the text portion of a provider request.
func BuildPrompt(req Request) string {
	prompt := instruction + "\nFile: " + req.Name
	if req.Context != "" {
		prompt += fmt.Sprintf("\n[Message context]:\n%s", req.Context)
	}
	return prompt
}
