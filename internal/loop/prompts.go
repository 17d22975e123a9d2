package loop

// System instructions for each loop node. The router's query-length rule
// and the answer formatting rules are prompt contracts: they shape model
// behavior but are not enforced in code.

const routeSystem = `You are a helpful assistant with access to a knowledge base.

Decide whether the user's question needs information from the knowledge base.

- If you can answer confidently from the conversation alone (greetings,
  follow-ups on what was already said, general knowledge), answer directly.
- Otherwise call the ` + ToolName + ` tool. The query must be a short
  keyword phrase of 5 to 8 words in the same language as the question.
  Do not pass the question verbatim; extract the key terms.`

const gradeSystem = `You grade whether retrieved context is relevant to a question.

Respond with a JSON object containing a single field "binary_score" whose
value is exactly "yes" or "no".

- "yes" if the context contains information that helps answer the question.
- "no" if the context is unrelated, empty, or only superficially similar.`

const rewriteSystem = `You reformulate a question to improve knowledge-base retrieval.

The previous search returned nothing useful. Rewrite the question as a
keyword-oriented query while preserving its language and meaning. Drop
filler words; prefer specific nouns and terms a document would contain.

Return only the rewritten question, nothing else.`

const answerSystem = `You answer a question using the provided context.

Rules:
- Answer in the language of the question.
- Be concise: one to three sentences.
- Exception: if the question asks for a list, steps, or an enumeration,
  reproduce the relevant items from the context in full instead of
  compressing them.
- If the context contains the answer, give it. Never claim the information
  is missing when it is present in the context.
- If the context genuinely lacks the answer, say so briefly.`

const summarizeSystem = `You maintain a running summary of a conversation.

Extend the existing summary (if any) with the new messages. Keep every
name, number, decision, and commitment mentioned; drop pleasantries.
Write a compact paragraph, not a transcript.

Return only the updated summary.`
