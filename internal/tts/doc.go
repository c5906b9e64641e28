// Package tts ties the audio cache, the worker pool and the playback
// scheduler into the service that reads documents aloud.
package tts
