// Package gemini implements the generation interfaces on top of Google's
// Gemini API.
//
// This package is an infrastructure adapter in the hexagonal architecture.
// The task package resolves its generators by service tag and never sees
// genai types.
//
// Key components:
//
// 1. GeminiGenerator:
//   - Implements generation.CVGenerator, generation.TemplateGenerator and
//     generation.MatchScorer
//   - Requests JSON output and decodes it into domain types
//
// 2. Prompt Management:
//   - Prompts are text/template files embedded from prompts/
//   - Each operation renders one named template
//
// 3. Error Handling:
//   - Transient failures are retried with exponential backoff and jitter
//   - Quota and rate limit rejections map to generation.ErrQuotaExceeded
//     and are never retried
//   - Safety blocks and malformed output are permanent
package gemini
