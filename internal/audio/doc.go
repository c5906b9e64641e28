// Package audio plays synthesized sentences back to back without gaps.
//
// A Scheduler decodes artifacts and places each one on a Sink's timeline
// right where the previous one ends. OtoSink renders that timeline to the
// sound device through a single oto player; MockSink advances a virtual
// clock and is used by tests and by ARRE_MOCK_AUDIO.
package audio
