// Package spectrum implements the streaming spectral pipeline: IQ sample
// batches in, JSON spectrum frames out.
package spectrum

// SampleBatch is one block of complex baseband samples as delivered by
// the receiver. A batch shorter than the transform size cannot produce a
// frame and is skipped.
type SampleBatch []complex64
