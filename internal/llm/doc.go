// Package llm wraps the text completion providers used by the agents.
//
// Callers depend on the Completer interface, which takes a user prompt and an
// optional system prompt and returns unstructured text. Provider failures are
// reported as *ServiceError. Completions are treated as untrusted text:
// ExtractJSON locates the JSON object inside a reply before decoding, and a
// missing or malformed object is a recoverable condition for every caller.
//
// Backends:
//   - OpenAIClient speaks the OpenAI chat completion API and is pointed at Groq
//     (or any compatible endpoint) through BaseURL.
//   - GeminiClient calls Google Gemini through the genai SDK.
//   - Mock returns scripted replies for tests and offline runs.
//
// Limited wraps any Completer with request pacing and a per-call timeout.
package llm
