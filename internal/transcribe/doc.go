// Package transcribe runs speech-to-text inference through the WhisperX CLI.
//
// Engine.Run resolves a quality profile to a whisper model, invokes WhisperX
// (through uvx by default) with a scratch output directory, and returns the
// segment text joined into a single transcript. Transcripts shorter than the
// configured minimum are rejected as validation errors.
package transcribe
