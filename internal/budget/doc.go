// Package budget estimates token usage for conversation history so that
// fresh agent sessions are seeded with as much context as the model's
// window safely allows.
//
// Estimation is character-based (no tokenizer dependency): a fixed
// chars-per-token ratio plus per-message metadata and attachment overheads,
// scaled by a safety margin. Per-model configs cover the known model
// families and fall back to a conservative default.
package budget
