// Package demux implements MPEG-TS demuxing with H.264 video and AAC audio
// parsing. It splits a transport stream into discrete video samples, audio
// samples, and CEA-608 closed captions.
//
// The central type is [Demuxer], which reads from an [io.Reader] and produces
// parsed samples on typed channels. Caption-bearing SEI messages are
// resequenced from decode order into presentation order before decoding.
// Codec-specific parsing is provided by [ParseAnnexB], [ParseSPS], and
// [ParseADTS].
package demux
