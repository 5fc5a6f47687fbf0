// Package generation provides interfaces for interacting with external
// AI/LLM services for content generation. It abstracts the details of LLM API
// integration (Gemini), allowing background jobs to generate CVs, draft
// template CVs and score CVs against job descriptions without coupling to a
// specific provider.
package generation
